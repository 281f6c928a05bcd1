package decoder

import (
	"errors"
	"testing"

	"github.com/google/gopacket/layers"

	"firestige.xyz/flowscope/internal/core"
)

func buildEthernetFrame(etherType uint16, vlanTags []uint16, payload []byte) []byte {
	frame := make([]byte, 12)
	for i := range frame {
		frame[i] = byte(i + 1) // dst + src MAC
	}
	for _, tag := range vlanTags {
		frame = append(frame, 0x81, 0x00, byte(tag>>8), byte(tag))
	}
	frame = append(frame, byte(etherType>>8), byte(etherType))
	return append(frame, payload...)
}

func TestStripLinkHeaderEthernet(t *testing.T) {
	payload := []byte{0x45, 0x00, 0x00, 0x14}
	got, err := StripLinkHeader(layers.LinkTypeEthernet, buildEthernetFrame(0x0800, nil, payload))
	if err != nil {
		t.Fatalf("StripLinkHeader failed: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("Expected payload %x, got %x", payload, got)
	}
}

func TestStripLinkHeaderVLAN(t *testing.T) {
	payload := []byte{0x45, 0x00}
	frame := buildEthernetFrame(0x0800, []uint16{100, 200}, payload)

	got, err := StripLinkHeader(layers.LinkTypeEthernet, frame)
	if err != nil {
		t.Fatalf("StripLinkHeader failed: %v", err)
	}
	if len(got) != len(payload) {
		t.Errorf("Expected %d bytes after QinQ strip, got %d", len(payload), len(got))
	}
}

func TestStripLinkHeaderErrors(t *testing.T) {
	tests := []struct {
		name     string
		linkType layers.LinkType
		frame    []byte
		want     error
	}{
		{"EthernetTooShort", layers.LinkTypeEthernet, make([]byte, 13), core.ErrPacketTooShort},
		{"TruncatedVLAN", layers.LinkTypeEthernet, append(make([]byte, 12), 0x81, 0x00, 0x00), core.ErrPacketTooShort},
		{"ARP", layers.LinkTypeEthernet, buildEthernetFrame(0x0806, nil, make([]byte, 28)), core.ErrUnsupportedProto},
		{"IPv6", layers.LinkTypeEthernet, buildEthernetFrame(0x86DD, nil, make([]byte, 40)), core.ErrUnsupportedProto},
		{"SLLTooShort", layers.LinkTypeLinuxSLL, make([]byte, 15), core.ErrPacketTooShort},
		{"NullTooShort", layers.LinkTypeNull, make([]byte, 3), core.ErrPacketTooShort},
		{"UnknownLinkType", layers.LinkTypeIEEE802_11, make([]byte, 64), core.ErrUnsupportedProto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := StripLinkHeader(tt.linkType, tt.frame)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestStripLinkHeaderOtherLinkTypes(t *testing.T) {
	sll := make([]byte, 16+4)
	sll[14], sll[15] = 0x08, 0x00

	tests := []struct {
		name     string
		linkType layers.LinkType
		frame    []byte
		wantLen  int
	}{
		{"LinuxSLL", layers.LinkTypeLinuxSLL, sll, 4},
		{"Null", layers.LinkTypeNull, make([]byte, 4+20), 20},
		{"Raw", layers.LinkTypeRaw, make([]byte, 20), 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StripLinkHeader(tt.linkType, tt.frame)
			if err != nil {
				t.Fatalf("StripLinkHeader failed: %v", err)
			}
			if len(got) != tt.wantLen {
				t.Errorf("Expected %d bytes, got %d", tt.wantLen, len(got))
			}
		})
	}
}
