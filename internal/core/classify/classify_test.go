package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentify(t *testing.T) {
	tests := []struct {
		name    string
		src     uint16
		dst     uint16
		payload string
		want    AppProtocol
	}{
		{"PortBeatsPayload", 80, 51000, "irrelevant", HTTP},
		{"DestinationPort", 51000, 5432, "", PostgreSQL},
		{"TableOrderAcrossSides", 22, 80, "", HTTP},
		{"TableOrderReversed", 80, 22, "", HTTP},
		{"HTTPSBeforeDNS", 53, 443, "", HTTPS},
		{"SSHBanner", 51000, 51000, "SSH-2.0-OpenSSH", SSH},
		{"RandomBytes", 51000, 51000, "randombytes", Unknown},
		{"Empty", 51000, 51000, "", Unknown},
		{"HTTPResponse", 51000, 51001, "HTTP/1.1 200 OK\r\n", HTTP},
		{"HTTPGet", 51000, 51001, "GET / HTTP/1.1\r\n", HTTP},
		{"HTTPPost", 51000, 51001, "POST /api HTTP/1.1\r\n", HTTP},
		{"HTTPOptions", 51000, 51001, "OPTIONS * HTTP/1.1\r\n", HTTP},
		{"LowercaseMethod", 51000, 51001, "get / HTTP/1.1\r\n", Unknown},
		{"SMTPEhlo", 51000, 51001, "EHLO mail.example.com\r\n", SMTP},
		{"SMTPHelo", 51000, 51001, "HELO mail.example.com\r\n", SMTP},
		{"POP3", 51000, 51001, "+OK POP3 server ready\r\n", POP3},
		{"IMAP", 51000, 51001, "* OK IMAP4rev1 ready\r\n", IMAP},
		{"FTPBanner", 51000, 51001, "220 ProFTPD Server ready\r\n", FTP},
		{"SMTPBanner", 51000, 51001, "220 mx.example.com ESMTP Postfix\r\n", SMTP},
		{"Bare220", 51000, 51001, "220 welcome\r\n", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Identify(tt.src, tt.dst, []byte(tt.payload)))
		})
	}
}

func TestIdentifyDeterministic(t *testing.T) {
	payload := []byte("SSH-2.0-OpenSSH_9.6")
	first := Identify(40000, 40001, payload)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Identify(40000, 40001, payload))
	}
}

func TestAppProtocolNames(t *testing.T) {
	for p := Unknown; p <= LDAP; p++ {
		got, ok := ParseAppProtocol(p.String())
		assert.True(t, ok, p.String())
		assert.Equal(t, p, got)
	}

	p, ok := ParseAppProtocol("mssqlserver")
	assert.True(t, ok)
	assert.Equal(t, MSSQLServer, p)

	_, ok = ParseAppProtocol("gopher")
	assert.False(t, ok)
	assert.Equal(t, "Unknown", AppProtocol(250).String())
}
