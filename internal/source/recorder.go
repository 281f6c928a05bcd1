package source

import (
	"bufio"
	"fmt"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/flowscope/internal/core"
)

// Recorder writes frames to a pcap save file.
type Recorder struct {
	file *os.File
	buf  *bufio.Writer
	w    *pcapgo.Writer
}

// NewRecorder creates path and writes the pcap file header.
func NewRecorder(path string, linkType layers.LinkType, snapLen int) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create save file: %w", err)
	}
	buf := bufio.NewWriter(f)
	w := pcapgo.NewWriter(buf)
	if err := w.WriteFileHeader(uint32(snapLen), linkType); err != nil {
		f.Close()
		return nil, fmt.Errorf("write save file header: %w", err)
	}
	return &Recorder{file: f, buf: buf, w: w}, nil
}

// Write appends one frame.
func (r *Recorder) Write(pkt core.RawPacket) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     pkt.Timestamp,
		CaptureLength: len(pkt.Data),
		Length:        int(pkt.OrigLen),
	}
	if ci.Length < ci.CaptureLength {
		ci.Length = ci.CaptureLength
	}
	return r.w.WritePacket(ci, pkt.Data)
}

// Close flushes buffered frames and closes the file.
func (r *Recorder) Close() error {
	if err := r.buf.Flush(); err != nil {
		r.file.Close()
		return fmt.Errorf("flush save file: %w", err)
	}
	return r.file.Close()
}

// Tee returns a handle that writes every frame read from h to rec.
// Closing it closes both.
func Tee(h Handle, rec *Recorder) Handle {
	return &teeHandle{Handle: h, rec: rec}
}

type teeHandle struct {
	Handle
	rec *Recorder
}

func (t *teeHandle) NextFrame() (core.RawPacket, error) {
	pkt, err := t.Handle.NextFrame()
	if err != nil {
		return pkt, err
	}
	if err := t.rec.Write(pkt); err != nil {
		return pkt, fmt.Errorf("save frame: %w", err)
	}
	return pkt, nil
}

func (t *teeHandle) Close() error {
	herr := t.Handle.Close()
	if err := t.rec.Close(); err != nil {
		return err
	}
	return herr
}
