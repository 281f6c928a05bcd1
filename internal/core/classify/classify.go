// Package classify guesses the application protocol of a TCP segment.
package classify

import (
	"bytes"
	"strings"
)

// AppProtocol is a classified application protocol.
type AppProtocol uint8

const (
	Unknown AppProtocol = iota
	HTTP
	HTTPS
	FTP
	SSH
	Telnet
	SMTP
	POP3
	IMAP
	DNS
	MySQL
	PostgreSQL
	MongoDB
	Redis
	MSSQLServer
	AMQP
	Elasticsearch
	SNMP
	LDAP
)

var protocolNames = [...]string{
	Unknown:       "Unknown",
	HTTP:          "HTTP",
	HTTPS:         "HTTPS",
	FTP:           "FTP",
	SSH:           "SSH",
	Telnet:        "Telnet",
	SMTP:          "SMTP",
	POP3:          "POP3",
	IMAP:          "IMAP",
	DNS:           "DNS",
	MySQL:         "MySQL",
	PostgreSQL:    "PostgreSQL",
	MongoDB:       "MongoDB",
	Redis:         "Redis",
	MSSQLServer:   "MSSQLServer",
	AMQP:          "AMQP",
	Elasticsearch: "Elasticsearch",
	SNMP:          "SNMP",
	LDAP:          "LDAP",
}

func (p AppProtocol) String() string {
	if int(p) < len(protocolNames) {
		return protocolNames[p]
	}
	return protocolNames[Unknown]
}

// ParseAppProtocol resolves a protocol name case-insensitively.
func ParseAppProtocol(name string) (AppProtocol, bool) {
	for i, n := range protocolNames {
		if strings.EqualFold(n, name) {
			return AppProtocol(i), true
		}
	}
	return Unknown, false
}

// wellKnownPorts is matched in order against the source port, then the destination port.
var wellKnownPorts = []struct {
	port  uint16
	proto AppProtocol
}{
	{80, HTTP},
	{8080, HTTP},
	{443, HTTPS},
	{8443, HTTPS},
	{20, FTP},
	{21, FTP},
	{22, SSH},
	{23, Telnet},
	{25, SMTP},
	{587, SMTP},
	{465, SMTP},
	{110, POP3},
	{995, POP3},
	{143, IMAP},
	{993, IMAP},
	{53, DNS},
	{3306, MySQL},
	{5432, PostgreSQL},
	{27017, MongoDB},
	{6379, Redis},
	{1433, MSSQLServer},
	{5672, AMQP},
	{9200, Elasticsearch},
	{161, SNMP},
	{162, SNMP},
	{389, LDAP},
	{636, LDAP},
}

// signatures are payload prefixes checked in order once no port matched.
var signatures = []struct {
	prefix []byte
	proto  AppProtocol
}{
	{[]byte("HTTP/"), HTTP},
	{[]byte("GET "), HTTP},
	{[]byte("POST "), HTTP},
	{[]byte("PUT "), HTTP},
	{[]byte("HEAD "), HTTP},
	{[]byte("DELETE "), HTTP},
	{[]byte("OPTIONS "), HTTP},
	{[]byte("SSH-"), SSH},
	{[]byte("EHLO"), SMTP},
	{[]byte("HELO"), SMTP},
	{[]byte("+OK"), POP3},
	{[]byte("* OK"), IMAP},
}

// bannerScanLimit bounds how much of a 220 greeting is searched.
const bannerScanLimit = 128

// Identify classifies a segment by well-known port first, then by payload
// signature. The result depends only on its arguments.
func Identify(srcPort, dstPort uint16, payload []byte) AppProtocol {
	if p, ok := byPort(srcPort, dstPort); ok {
		return p
	}
	return byPayload(payload)
}

// byPort walks the table once; the first row matching either side wins.
func byPort(srcPort, dstPort uint16) (AppProtocol, bool) {
	for _, e := range wellKnownPorts {
		if e.port == srcPort || e.port == dstPort {
			return e.proto, true
		}
	}
	return Unknown, false
}

func byPayload(payload []byte) AppProtocol {
	for _, s := range signatures {
		if bytes.HasPrefix(payload, s.prefix) {
			return s.proto
		}
	}

	// "220" greetings are shared by FTP and SMTP servers
	if bytes.HasPrefix(payload, []byte("220")) {
		banner := bytes.ToUpper(payload[:min(len(payload), bannerScanLimit)])
		switch {
		case bytes.Contains(banner, []byte("FTP")):
			return FTP
		case bytes.Contains(banner, []byte("SMTP")):
			return SMTP
		}
	}
	return Unknown
}
