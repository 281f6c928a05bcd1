package decoder

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/flowscope/internal/core"
)

const ipv4HeaderMinLen = 20

// ParseIPv4Header decodes an IPv4 header and returns it with its length in bytes.
func ParseIPv4Header(data []byte) (core.IPHeader, int, error) {
	if len(data) < ipv4HeaderMinLen {
		return core.IPHeader{}, 0, core.ErrPacketTooShort
	}

	// Version - upper 4 bits of first byte
	if version := data[0] >> 4; version != 4 {
		return core.IPHeader{}, 0, core.ErrUnsupportedProto
	}

	// IHL - lower 4 bits of first byte, in 32-bit words
	headerLen := int(data[0]&0x0F) * 4
	if headerLen < ipv4HeaderMinLen || len(data) < headerLen {
		return core.IPHeader{}, 0, core.ErrPacketTooShort
	}

	ip := core.IPHeader{
		Version:         4,
		HeaderLen:       headerLen,
		TOS:             data[1],
		TotalLen:        binary.BigEndian.Uint16(data[2:4]),
		ID:              binary.BigEndian.Uint16(data[4:6]),
		FlagsFragOffset: binary.BigEndian.Uint16(data[6:8]),
		TTL:             data[8],
		Protocol:        data[9],
		Checksum:        binary.BigEndian.Uint16(data[10:12]),
		SrcIP:           netip.AddrFrom4([4]byte(data[12:16])),
		DstIP:           netip.AddrFrom4([4]byte(data[16:20])),
	}
	return ip, headerLen, nil
}

// IPv4Payload returns the datagram payload bounded by the declared total length.
// Trailing link padding is dropped; a total length larger than the captured bytes is clamped.
func IPv4Payload(ip core.IPHeader, data []byte) []byte {
	end := int(ip.TotalLen)
	if end < ip.HeaderLen || end > len(data) {
		end = len(data)
	}
	if ip.HeaderLen > end {
		return nil
	}
	return data[ip.HeaderLen:end]
}
