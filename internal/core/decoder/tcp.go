package decoder

import (
	"encoding/binary"

	"firestige.xyz/flowscope/internal/core"
)

const (
	tcpHeaderMinLen = 20

	// TCP option kinds
	tcpOptionEnd = 0
	tcpOptionNOP = 1
	tcpOptionMSS = 2

	tcpOptionMSSLen = 4
)

// ParseTCPHeader decodes a TCP header and returns it with its length in bytes, options included.
func ParseTCPHeader(data []byte) (core.TCPHeader, int, error) {
	if len(data) < tcpHeaderMinLen {
		return core.TCPHeader{}, 0, core.ErrPacketTooShort
	}

	tcp := core.TCPHeader{
		SrcPort:    binary.BigEndian.Uint16(data[0:2]),
		DstPort:    binary.BigEndian.Uint16(data[2:4]),
		Seq:        binary.BigEndian.Uint32(data[4:8]),
		Ack:        binary.BigEndian.Uint32(data[8:12]),
		DataOffset: data[12] >> 4,
		Flags:      data[13] & 0x3F, // URG, ACK, PSH, RST, SYN, FIN
		Window:     binary.BigEndian.Uint16(data[14:16]),
		Checksum:   binary.BigEndian.Uint16(data[16:18]),
		Urgent:     binary.BigEndian.Uint16(data[18:20]),
	}

	headerLen := tcp.HeaderLen()
	if headerLen < tcpHeaderMinLen || len(data) < headerLen {
		return tcp, 0, core.ErrPacketTooShort
	}
	return tcp, headerLen, nil
}

// TCPOptions returns the option bytes of a segment whose header was parsed by ParseTCPHeader.
func TCPOptions(tcp core.TCPHeader, data []byte) []byte {
	end := tcp.HeaderLen()
	if end <= tcpHeaderMinLen || end > len(data) {
		return nil
	}
	return data[tcpHeaderMinLen:end]
}

// ParseTCPOptions scans kind-length encoded options and returns the MSS if present.
// A truncated or malformed option ends the scan.
func ParseTCPOptions(opts []byte) (uint16, bool) {
	for i := 0; i < len(opts); {
		switch kind := opts[i]; kind {
		case tcpOptionEnd:
			return 0, false
		case tcpOptionNOP:
			i++
		default:
			if i+1 >= len(opts) {
				return 0, false
			}
			length := int(opts[i+1])
			if length < 2 || i+length > len(opts) {
				return 0, false
			}
			if kind == tcpOptionMSS {
				if length != tcpOptionMSSLen {
					return 0, false
				}
				return binary.BigEndian.Uint16(opts[i+2 : i+4]), true
			}
			i += length
		}
	}
	return 0, false
}
