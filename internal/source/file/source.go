// Package file implements offline capture from pcap and pcapng files.
package file

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/source"
)

// Name is the backend name used in configuration.
const Name = "file"

// pcapng section header block type
var pcapngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

func init() {
	source.Register(Name, func() source.Source { return &Source{} })
}

// Source replays capture files. The device name is the file path.
type Source struct{}

// ListDevices returns nothing; files are opened by path.
func (s *Source) ListDevices() ([]source.Device, error) {
	return nil, nil
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Open opens path for replay. A BPF filter is evaluated in user space.
func (s *Source) Open(path string, cfg source.Config) (source.Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("capture file %s: %w", path, core.ErrPacketTooShort)
	}

	var r packetReader
	if bytes.Equal(magic, pcapngMagic) {
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("capture file %s: %w", path, err)
	}

	h := &handle{file: f, r: r}
	if cfg.BPFFilter != "" {
		snapLen := cfg.SnapLen
		if snapLen <= 0 {
			snapLen = 65535
		}
		raw, err := source.CompileBPF(r.LinkType(), snapLen, cfg.BPFFilter)
		if err != nil {
			f.Close()
			return nil, err
		}
		if h.filter, err = source.NewFilter(raw); err != nil {
			f.Close()
			return nil, err
		}
	}

	slog.Info("capture file opened", "path", path, "link_type", r.LinkType(), "bpf_filter", cfg.BPFFilter)
	return h, nil
}

type handle struct {
	file   *os.File
	r      packetReader
	filter *source.Filter
}

func (h *handle) NextFrame() (core.RawPacket, error) {
	for {
		data, ci, err := h.r.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return core.RawPacket{}, io.EOF
			}
			return core.RawPacket{}, fmt.Errorf("failed to read packet: %w", err)
		}
		if h.filter != nil && !h.filter.Match(data) {
			continue
		}
		return core.RawPacket{
			Data:       data,
			Timestamp:  ci.Timestamp,
			CaptureLen: uint32(ci.CaptureLength),
			OrigLen:    uint32(ci.Length),
		}, nil
	}
}

func (h *handle) LinkType() layers.LinkType {
	return h.r.LinkType()
}

func (h *handle) Close() error {
	return h.file.Close()
}
