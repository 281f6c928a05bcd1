// Package pcap implements the libpcap capture backend.
package pcap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/source"
)

// Name is the backend name used in configuration.
const Name = "pcap"

func init() {
	source.Register(Name, func() source.Source { return &Source{} })
}

// Source opens live captures through libpcap.
type Source struct{}

// ListDevices returns the interfaces libpcap can open.
func (s *Source) ListDevices() ([]source.Device, error) {
	ifs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("find devices: %w", err)
	}

	devices := make([]source.Device, 0, len(ifs))
	for _, ifc := range ifs {
		d := source.Device{Name: ifc.Name, Description: ifc.Description}
		for _, a := range ifc.Addresses {
			if addr, ok := netip.AddrFromSlice(a.IP); ok {
				d.Addresses = append(d.Addresses, addr.Unmap())
			}
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// Open activates a capture on device.
func (s *Source) Open(device string, cfg source.Config) (source.Handle, error) {
	inactive, err := pcap.NewInactiveHandle(device)
	if err != nil {
		return nil, fmt.Errorf("pcap %s: %w", device, err)
	}
	defer inactive.CleanUp()

	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = pcap.BlockForever
	}
	if err := inactive.SetSnapLen(cfg.SnapLen); err != nil {
		return nil, fmt.Errorf("pcap %s: set snap_len: %w", device, err)
	}
	if err := inactive.SetPromisc(cfg.Promiscuous); err != nil {
		return nil, fmt.Errorf("pcap %s: set promiscuous: %w", device, err)
	}
	if err := inactive.SetTimeout(timeout); err != nil {
		return nil, fmt.Errorf("pcap %s: set read_timeout: %w", device, err)
	}
	if err := inactive.SetImmediateMode(cfg.Immediate); err != nil {
		return nil, fmt.Errorf("pcap %s: set immediate: %w", device, err)
	}
	if cfg.BufferSize > 0 {
		if err := inactive.SetBufferSize(int(cfg.BufferSize.Bytes())); err != nil {
			return nil, fmt.Errorf("pcap %s: set buffer_size: %w", device, err)
		}
	}

	h, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("pcap %s: activate: %w", device, err)
	}
	if cfg.BPFFilter != "" {
		if err := h.SetBPFFilter(cfg.BPFFilter); err != nil {
			h.Close()
			return nil, fmt.Errorf("pcap %s: bpf filter %q: %w", device, cfg.BPFFilter, err)
		}
	}

	slog.Info("pcap capture opened",
		"device", device,
		"link_type", h.LinkType(),
		"snap_len", cfg.SnapLen,
		"promiscuous", cfg.Promiscuous,
		"bpf_filter", cfg.BPFFilter)
	return &handle{h: h}, nil
}

type handle struct {
	h *pcap.Handle
}

func (h *handle) NextFrame() (core.RawPacket, error) {
	data, ci, err := h.h.ReadPacketData()
	switch {
	case err == nil:
	case errors.Is(err, pcap.NextErrorTimeoutExpired):
		return core.RawPacket{}, core.ErrCaptureTimeout
	case errors.Is(err, io.EOF), errors.Is(err, pcap.NextErrorNoMorePackets):
		return core.RawPacket{}, io.EOF
	default:
		return core.RawPacket{}, fmt.Errorf("pcap read: %w", err)
	}

	return core.RawPacket{
		Data:       data,
		Timestamp:  ci.Timestamp,
		CaptureLen: uint32(ci.CaptureLength),
		OrigLen:    uint32(ci.Length),
	}, nil
}

func (h *handle) LinkType() layers.LinkType {
	return h.h.LinkType()
}

func (h *handle) Close() error {
	h.h.Close()
	return nil
}
