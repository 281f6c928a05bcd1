//go:build linux

package afpacket

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/source"
)

// Name is the backend name used in configuration.
const Name = "afpacket"

func init() {
	source.Register(Name, func() source.Source { return &Source{} })
}

// Source opens TPACKET_V3 rings.
type Source struct{}

// ListDevices returns the host interfaces.
func (s *Source) ListDevices() ([]source.Device, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	devices := make([]source.Device, 0, len(ifs))
	for _, ifc := range ifs {
		d := source.Device{Name: ifc.Name, Description: ifc.Flags.String()}
		addrs, _ := ifc.Addrs()
		for _, a := range addrs {
			if prefix, err := netip.ParsePrefix(a.String()); err == nil {
				d.Addresses = append(d.Addresses, prefix.Addr())
			}
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// Open creates a ring on device. Promiscuous mode is left as configured on the interface.
func (s *Source) Open(device string, cfg source.Config) (source.Handle, error) {
	frameSize, blockSize, numBlocks, err := recomputeSize(cfg.BufferSize, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("afpacket %s: %w", device, err)
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(device),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(cfg.ReadTimeout),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion3),
		afpacket.SocketRaw,
	)
	if err != nil {
		return nil, fmt.Errorf("afpacket %s: failed to create TPacket handle: %w", device, err)
	}

	if cfg.BPFFilter != "" {
		raw, err := source.CompileBPF(layers.LinkTypeEthernet, frameSize, cfg.BPFFilter)
		if err != nil {
			tp.Close()
			return nil, err
		}
		if err := tp.SetBPF(raw); err != nil {
			tp.Close()
			return nil, fmt.Errorf("afpacket %s: failed to set BPF: %w", device, err)
		}
	}

	slog.Info("afpacket capture opened",
		"device", device,
		"frame_size", frameSize,
		"block_size", blockSize,
		"num_blocks", numBlocks,
		"bpf_filter", cfg.BPFFilter)
	return &handle{tp: tp}, nil
}

type handle struct {
	tp *afpacket.TPacket
}

// NextFrame reads straight from the mmap ring. The data is only valid
// until the next call; the pipeline copies whatever it keeps.
func (h *handle) NextFrame() (core.RawPacket, error) {
	data, ci, err := h.tp.ZeroCopyReadPacketData()
	if err != nil {
		if errors.Is(err, afpacket.ErrTimeout) {
			return core.RawPacket{}, core.ErrCaptureTimeout
		}
		return core.RawPacket{}, fmt.Errorf("afpacket read: %w", err)
	}
	return core.RawPacket{
		Data:       data,
		Timestamp:  ci.Timestamp,
		CaptureLen: uint32(ci.CaptureLength),
		OrigLen:    uint32(ci.Length),
	}, nil
}

func (h *handle) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

// Close releases the ring. The caller must not be blocked in NextFrame.
func (h *handle) Close() error {
	h.tp.Close()
	return nil
}
