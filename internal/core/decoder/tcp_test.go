package decoder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowscope/internal/core"
)

func TestParseTCPHeaderBasic(t *testing.T) {
	data := []byte{
		0xC7, 0x38, // Src Port: 51000
		0x00, 0x50, // Dst Port: 80
		0xFF, 0xFF, 0xFF, 0xFE, // Seq
		0x00, 0x00, 0x00, 0x01, // Ack
		0x50,       // Data Offset 5
		0x18,       // Flags: PSH+ACK
		0xFA, 0xF0, // Window 64240
		0x12, 0x34, // Checksum
		0x00, 0x00, // Urgent
		'G', 'E', 'T', ' ',
	}

	tcp, headerLen, err := ParseTCPHeader(data)
	require.NoError(t, err)
	assert.Equal(t, 20, headerLen)
	assert.Equal(t, uint16(51000), tcp.SrcPort)
	assert.Equal(t, uint16(80), tcp.DstPort)
	assert.Equal(t, uint32(0xFFFFFFFE), tcp.Seq)
	assert.Equal(t, uint32(1), tcp.Ack)
	assert.Equal(t, uint8(5), tcp.DataOffset)
	assert.True(t, tcp.Has(core.TCPFlagPSH|core.TCPFlagACK))
	assert.Equal(t, uint16(64240), tcp.Window)
	assert.Equal(t, uint16(0x1234), tcp.Checksum)
	assert.Equal(t, []byte("GET "), data[headerLen:])
	assert.Nil(t, TCPOptions(tcp, data))
}

func TestParseTCPHeaderWithMSSOption(t *testing.T) {
	data := make([]byte, 24)
	data[12] = 0x60 // Data Offset 6
	data[13] = core.TCPFlagSYN
	copy(data[20:], []byte{2, 4, 0x05, 0xB4}) // MSS 1460

	tcp, headerLen, err := ParseTCPHeader(data)
	require.NoError(t, err)
	assert.Equal(t, 24, headerLen)

	mss, ok := ParseTCPOptions(TCPOptions(tcp, data))
	require.True(t, ok)
	assert.Equal(t, uint16(1460), mss)
}

func TestParseTCPHeaderErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"Empty", nil},
		{"TooShort", make([]byte, 19)},
		{"DataOffsetBelowMinimum", func() []byte { b := make([]byte, 20); b[12] = 0x40; return b }()},
		{"OptionsPastData", func() []byte { b := make([]byte, 20); b[12] = 0xF0; return b }()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseTCPHeader(tt.data)
			if !errors.Is(err, core.ErrPacketTooShort) {
				t.Errorf("Expected ErrPacketTooShort, got %v", err)
			}
		})
	}
}

func TestParseTCPOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    []byte
		wantMSS uint16
		wantOK  bool
	}{
		{"Empty", nil, 0, false},
		{"MSSOnly", []byte{2, 4, 0x05, 0xB4}, 1460, true},
		{"NOPsBeforeMSS", []byte{1, 1, 2, 4, 0x02, 0x18}, 536, true},
		{"SkipUnknownKinds", []byte{3, 3, 7, 4, 2, 8, 0, 0, 0, 0, 2, 4, 0x23, 0x28}, 9000, true},
		{"EndBeforeMSS", []byte{0, 2, 4, 0x05, 0xB4}, 0, false},
		{"NoMSS", []byte{1, 3, 3, 7, 0}, 0, false},
		{"TruncatedMSS", []byte{2, 4, 0x05}, 0, false},
		{"MissingLength", []byte{1, 8}, 0, false},
		{"ZeroLength", []byte{8, 0, 2, 4, 0x05, 0xB4}, 0, false},
		{"LengthPastSlice", []byte{8, 40, 2, 4, 0x05, 0xB4}, 0, false},
		{"BadMSSLength", []byte{2, 3, 0x05}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mss, ok := ParseTCPOptions(tt.opts)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantMSS, mss)
		})
	}
}

func TestParseTCPOptionsNeverOverreads(t *testing.T) {
	// Every prefix of a valid option block must scan safely.
	full := []byte{1, 1, 8, 10, 0, 0, 0, 1, 0, 0, 0, 2, 2, 4, 0x05, 0xB4}
	for i := range full {
		assert.NotPanics(t, func() { ParseTCPOptions(full[:i]) })
	}
}
