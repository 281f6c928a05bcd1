// Package pipeline implements the per-frame analysis chain.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/gopacket/layers"

	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/core/classify"
	"firestige.xyz/flowscope/internal/core/decoder"
	"firestige.xyz/flowscope/internal/core/stream"
	"firestige.xyz/flowscope/internal/metrics"
)

const defaultMaintenanceEvery = 1024

// Pipeline turns link-layer frames into analyzed records.
// It owns its reassembler and stream table; one goroutine drives it.
type Pipeline struct {
	linkType         layers.LinkType
	reassembler      *decoder.Reassembler
	streams          *stream.Table
	capturePayload   bool
	maintenanceEvery uint64
	sinceMaintenance uint64
	lastMaintenance  time.Time
	metrics          *Metrics
}

// Config contains pipeline configuration.
type Config struct {
	LinkType         layers.LinkType
	Reassembly       decoder.ReassemblyConfig
	Streams          stream.TableConfig
	CapturePayload   bool   // Copy TCP payload into records
	MaintenanceEvery uint64 // Frames between maintenance runs (default 1024)
}

// New creates a new pipeline.
func New(cfg Config) *Pipeline {
	if cfg.MaintenanceEvery == 0 {
		cfg.MaintenanceEvery = defaultMaintenanceEvery
	}

	return &Pipeline{
		linkType:         cfg.LinkType,
		reassembler:      decoder.NewReassembler(cfg.Reassembly),
		streams:          stream.NewTable(cfg.Streams),
		capturePayload:   cfg.CapturePayload,
		maintenanceEvery: cfg.MaintenanceEvery,
		metrics:          NewMetrics(),
	}
}

// Process analyzes one frame. It returns (nil, nil) for frames that produce
// no record: non-TCP traffic, fragments still awaiting the rest of their
// datagram and segments of untracked flows. Malformed frames return a
// wrapped core error; callers skip them.
func (p *Pipeline) Process(raw core.RawPacket) (*core.AnalyzedRecord, error) {
	p.metrics.Received.Add(1)
	defer p.tick(raw.Timestamp)

	rec, err := p.process(raw)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrUnsupportedProto), errors.Is(err, core.ErrNotTCP):
		p.metrics.NonTCP.Add(1)
		metrics.FramesTotal.WithLabelValues("non_tcp").Inc()
		return nil, nil
	case errors.Is(err, core.ErrReassemblyLimit), errors.Is(err, core.ErrStreamTableFull):
		p.metrics.Dropped.Add(1)
		metrics.FramesTotal.WithLabelValues("dropped").Inc()
		return nil, err
	default:
		p.metrics.DecodeErrors.Add(1)
		metrics.FramesTotal.WithLabelValues("malformed").Inc()
		return nil, err
	}
	return rec, nil
}

func (p *Pipeline) process(raw core.RawPacket) (*core.AnalyzedRecord, error) {
	ts := raw.Timestamp

	// Step 1: Link and network headers
	network, err := decoder.StripLinkHeader(p.linkType, raw.Data)
	if err != nil {
		return nil, fmt.Errorf("link header: %w", err)
	}
	ip, _, err := decoder.ParseIPv4Header(network)
	if err != nil {
		return nil, fmt.Errorf("ip header: %w", err)
	}
	p.metrics.Decoded.Add(1)

	// Step 2: Reassembly
	segment, complete, err := p.reassembler.Process(ip, decoder.IPv4Payload(ip, network), ts)
	if err != nil {
		return nil, fmt.Errorf("reassembly %s id=%d: %w", ip.SrcIP, ip.ID, err)
	}
	if !complete {
		p.metrics.Pending.Add(1)
		metrics.FramesTotal.WithLabelValues("pending").Inc()
		return nil, nil
	}
	reassembled := ip.IsFragment()

	if ip.Protocol != core.ProtocolTCP {
		return nil, fmt.Errorf("protocol %d: %w", ip.Protocol, core.ErrNotTCP)
	}

	// Step 3: TCP
	tcp, headerLen, err := decoder.ParseTCPHeader(segment)
	if err != nil {
		return nil, fmt.Errorf("tcp header: %w", err)
	}
	payload := segment[headerLen:]

	// Step 4: Stream tracking
	res, err := p.streams.Dispatch(ip, tcp, decoder.TCPOptions(tcp, segment), payload, ts)
	if err != nil {
		return nil, err
	}
	if res.Stream == nil {
		p.metrics.Untracked.Add(1)
		metrics.FramesTotal.WithLabelValues("untracked").Inc()
		return nil, nil
	}

	// Step 5: Classification and record
	app := classify.Identify(tcp.SrcPort, tcp.DstPort, payload)
	rec := &core.AnalyzedRecord{
		Timestamp:       ts,
		Family:          "TCP",
		IPVersion:       ip.Version,
		SrcIP:           ip.SrcIP,
		DstIP:           ip.DstIP,
		SrcPort:         tcp.SrcPort,
		DstPort:         tcp.DstPort,
		IPHeaderLen:     ip.HeaderLen,
		TotalLen:        ip.TotalLen,
		ID:              ip.ID,
		TTL:             ip.TTL,
		FlagsFragOffset: ip.FlagsFragOffset,
		Reassembled:     reassembled,
		Seq:             tcp.Seq,
		Ack:             tcp.Ack,
		Window:          tcp.Window,
		TCPFlags:        tcp.Flags,
		DataOffset:      tcp.DataOffset,
		PayloadLen:      len(payload),
		StreamID:        res.Key.String(),
		FromClient:      res.FromClient,
		TCPState:        res.State.String(),
		AppProtocol:     app.String(),
	}
	if reassembled {
		// Report the datagram, not the last fragment
		rec.TotalLen = uint16(min(ip.HeaderLen+len(segment), 0xFFFF))
	}
	if p.capturePayload && len(payload) > 0 {
		rec.Payload = append([]byte(nil), payload...)
	}

	p.metrics.Emitted.Add(1)
	metrics.FramesTotal.WithLabelValues("emitted").Inc()
	metrics.RecordsTotal.WithLabelValues(rec.AppProtocol).Inc()
	return rec, nil
}

// tick runs maintenance on a fixed frame-count cadence.
func (p *Pipeline) tick(now time.Time) {
	p.sinceMaintenance++
	if p.sinceMaintenance >= p.maintenanceEvery {
		p.Maintain(now)
	}
}

// Maintain drops expired fragment sets and sweeps idle streams.
// The capture worker also calls it while the link is quiet.
func (p *Pipeline) Maintain(now time.Time) {
	fragments := p.reassembler.Cleanup(now)
	streams := p.streams.Sweep(now)
	p.sinceMaintenance = 0
	p.lastMaintenance = now

	if fragments > 0 || streams > 0 {
		slog.Debug("pipeline maintenance",
			"expired_fragment_sets", fragments,
			"removed_streams", streams,
			"active_streams", p.streams.Len())
	}
}

// LastMaintenance returns the time passed to the most recent Maintain call.
func (p *Pipeline) LastMaintenance() time.Time {
	return p.lastMaintenance
}

// Streams returns the stream table. For inspection only; it must be used
// from the goroutine driving the pipeline.
func (p *Pipeline) Streams() *stream.Table {
	return p.streams
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:     p.metrics.Received.Load(),
		Decoded:      p.metrics.Decoded.Load(),
		DecodeErrors: p.metrics.DecodeErrors.Load(),
		NonTCP:       p.metrics.NonTCP.Load(),
		Pending:      p.metrics.Pending.Load(),
		Untracked:    p.metrics.Untracked.Load(),
		Dropped:      p.metrics.Dropped.Load(),
		Emitted:      p.metrics.Emitted.Load(),
	}
}

// Stats represents pipeline statistics.
type Stats struct {
	Received     uint64
	Decoded      uint64
	DecodeErrors uint64
	NonTCP       uint64
	Pending      uint64
	Untracked    uint64
	Dropped      uint64
	Emitted      uint64
}
