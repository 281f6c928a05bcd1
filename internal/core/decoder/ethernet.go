// Package decoder implements the header codec and IPv4 fragment reassembly.
package decoder

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket/layers"

	"firestige.xyz/flowscope/internal/core"
)

const (
	// Link header sizes
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4
	linuxSLLHeaderLen = 16
	nullHeaderLen     = 4

	// EtherType values
	etherTypeIPv4 = 0x0800
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8
)

// LinkHeaderLen returns the fixed link header size for linkType, not counting VLAN tags.
func LinkHeaderLen(linkType layers.LinkType) (int, error) {
	switch linkType {
	case layers.LinkTypeEthernet:
		return ethernetHeaderLen, nil
	case layers.LinkTypeLinuxSLL:
		return linuxSLLHeaderLen, nil
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		return nullHeaderLen, nil
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		return 0, nil
	default:
		return 0, fmt.Errorf("link type %s: %w", linkType, core.ErrUnsupportedProto)
	}
}

// StripLinkHeader removes the link-layer header and returns the network-layer bytes.
// Frames that do not carry IPv4 are rejected with core.ErrUnsupportedProto.
func StripLinkHeader(linkType layers.LinkType, frame []byte) ([]byte, error) {
	switch linkType {
	case layers.LinkTypeEthernet:
		return stripEthernet(frame)
	case layers.LinkTypeLinuxSLL:
		if len(frame) < linuxSLLHeaderLen {
			return nil, core.ErrPacketTooShort
		}
		if binary.BigEndian.Uint16(frame[14:16]) != etherTypeIPv4 {
			return nil, core.ErrUnsupportedProto
		}
		return frame[linuxSLLHeaderLen:], nil
	default:
		n, err := LinkHeaderLen(linkType)
		if err != nil {
			return nil, err
		}
		if len(frame) < n {
			return nil, core.ErrPacketTooShort
		}
		return frame[n:], nil
	}
}

// stripEthernet skips the Ethernet header including any 802.1Q / QinQ tags.
func stripEthernet(data []byte) ([]byte, error) {
	if len(data) < ethernetHeaderLen {
		return nil, core.ErrPacketTooShort
	}

	etherType := binary.BigEndian.Uint16(data[12:14])
	offset := ethernetHeaderLen

	// Tags can be nested (QinQ)
	for etherType == etherTypeVLAN || etherType == etherTypeQinQ {
		if len(data) < offset+vlanHeaderLen {
			return nil, core.ErrPacketTooShort
		}
		etherType = binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += vlanHeaderLen
	}

	if etherType != etherTypeIPv4 {
		// ARP, LLDP, IPv6 and friends
		return nil, core.ErrUnsupportedProto
	}
	return data[offset:], nil
}
