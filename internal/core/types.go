// Package core defines core types with zero external dependencies.
package core

import "net/netip"

// IP protocol numbers the analyzer cares about.
const (
	ProtocolTCP uint8 = 6
	ProtocolUDP uint8 = 17
)

// IPv4 flags/fragment-offset field layout.
const (
	ipFlagDontFragment  = 0x4000
	ipFlagMoreFragments = 0x2000
	ipFragOffsetMask    = 0x1FFF
)

// IPHeader represents a parsed IPv4 header. It is a value type and never mutated after parsing.
type IPHeader struct {
	Version         uint8
	HeaderLen       int    // Header length in bytes (IHL * 4)
	TOS             uint8  // DSCP + ECN
	TotalLen        uint16 // Header + payload as declared on the wire
	ID              uint16 // Identification, shared by all fragments of a datagram
	FlagsFragOffset uint16 // Raw flags + fragment offset field
	TTL             uint8
	Protocol        uint8 // TCP=6, UDP=17
	Checksum        uint16
	SrcIP           netip.Addr
	DstIP           netip.Addr
}

// MoreFragments reports whether the MF flag is set.
func (h IPHeader) MoreFragments() bool {
	return h.FlagsFragOffset&ipFlagMoreFragments != 0
}

// DontFragment reports whether the DF flag is set.
func (h IPHeader) DontFragment() bool {
	return h.FlagsFragOffset&ipFlagDontFragment != 0
}

// FragmentOffset returns the fragment offset in bytes. The wire field is in 8-byte units.
func (h IPHeader) FragmentOffset() int {
	return int(h.FlagsFragOffset&ipFragOffsetMask) * 8
}

// IsFragment reports whether the datagram is part of a fragment set.
func (h IPHeader) IsFragment() bool {
	return h.MoreFragments() || h.FlagsFragOffset&ipFragOffsetMask != 0
}

// TCP flag bits (lower 6 bits of byte 13).
const (
	TCPFlagFIN uint8 = 0x01
	TCPFlagSYN uint8 = 0x02
	TCPFlagRST uint8 = 0x04
	TCPFlagPSH uint8 = 0x08
	TCPFlagACK uint8 = 0x10
	TCPFlagURG uint8 = 0x20
)

// TCPHeader represents a parsed TCP header.
type TCPHeader struct {
	SrcPort    uint16
	DstPort    uint16
	Seq        uint32
	Ack        uint32
	DataOffset uint8 // Header length in 32-bit words
	Flags      uint8
	Window     uint16
	Checksum   uint16
	Urgent     uint16
}

// HeaderLen returns the header length in bytes, options included.
func (h TCPHeader) HeaderLen() int {
	return int(h.DataOffset) * 4
}

// Has reports whether every bit of flag is set.
func (h TCPHeader) Has(flag uint8) bool {
	return h.Flags&flag == flag
}
