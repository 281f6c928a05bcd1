package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/metrics"
	"firestige.xyz/flowscope/internal/pipeline"
	"firestige.xyz/flowscope/internal/source"
)

const (
	defaultPollInterval  = 50 * time.Millisecond
	defaultSweepInterval = 5 * time.Second
)

// Output receives records without blocking the worker.
type Output interface {
	Enqueue(rec *core.AnalyzedRecord)
}

// WorkerConfig configures a capture worker.
type WorkerConfig struct {
	Capture       source.Config
	Pipeline      pipeline.Config // LinkType is taken from each opened handle
	PollInterval  time.Duration   // Idle poll while capture is off (default 50ms)
	SweepInterval time.Duration   // Minimum time between idle maintenance runs (default 5s)
	SaveFile      string          // Optional pcap file receiving every frame read
	StopAtEOF     bool            // Return from Run when a file replay ends
}

// Worker reads frames from the selected target and feeds them through a pipeline.
// It is the only goroutine touching its handle and pipeline.
type Worker struct {
	state  *State
	src    source.Source
	out    Output
	config WorkerConfig

	handle     source.Handle
	pipeline   *pipeline.Pipeline
	generation uint64
	device     string
}

// NewWorker creates a worker. out may be nil.
func NewWorker(state *State, src source.Source, out Output, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	return &Worker{state: state, src: src, out: out, config: cfg}
}

// Run captures until ctx is cancelled. Failing to open the target or a
// non-timeout read error ends the worker; the error is kept in State.
func (w *Worker) Run(ctx context.Context) error {
	defer w.closeHandle()
	metrics.CaptureStatus.Set(metrics.CaptureStatusIdle)

	for {
		if ctx.Err() != nil {
			return nil
		}

		target, generation, capturing := w.state.observe()
		if !capturing || target == "" {
			w.closeHandle()
			if !sleep(ctx, w.config.PollInterval) {
				return nil
			}
			continue
		}

		if w.handle == nil || generation != w.generation {
			if err := w.open(target, generation); err != nil {
				w.fail(err)
				return err
			}
		}

		pkt, err := w.handle.NextFrame()
		switch {
		case err == nil:
			w.process(pkt)
		case errors.Is(err, core.ErrCaptureTimeout):
			w.idle(time.Now())
		case errors.Is(err, io.EOF):
			slog.Info("capture reached end of input", "device", w.device, "stats", w.pipeline.Stats())
			w.pipeline.Maintain(time.Now())
			w.closeHandle()
			w.state.SetCapturing(false)
			w.state.SetMessage("end of input: " + target)
			if w.config.StopAtEOF {
				return nil
			}
		default:
			err = fmt.Errorf("capture %s: %w", w.device, err)
			w.fail(err)
			return err
		}
	}
}

func (w *Worker) open(target string, generation uint64) error {
	w.closeHandle()

	device, err := source.Resolve(w.src, target)
	if err != nil {
		return err
	}
	h, err := w.src.Open(device, w.config.Capture)
	if err != nil {
		return fmt.Errorf("open %s: %w", device, err)
	}
	if w.config.SaveFile != "" {
		rec, err := source.NewRecorder(w.config.SaveFile, h.LinkType(), w.config.Capture.SnapLen)
		if err != nil {
			h.Close()
			return err
		}
		h = source.Tee(h, rec)
	}

	cfg := w.config.Pipeline
	cfg.LinkType = h.LinkType()
	w.pipeline = pipeline.New(cfg)
	w.handle = h
	w.generation = generation
	w.device = device

	metrics.CaptureStatus.Set(metrics.CaptureStatusCapturing)
	w.state.SetMessage("capturing on " + device)
	slog.Info("capture started", "device", device, "link_type", cfg.LinkType)
	return nil
}

func (w *Worker) process(pkt core.RawPacket) {
	rec, err := w.pipeline.Process(pkt)
	if err != nil {
		slog.Debug("frame skipped", "device", w.device, "error", err)
	}
	w.state.record(rec)
	if rec != nil && w.out != nil {
		w.out.Enqueue(rec)
	}
}

// idle runs maintenance while the link is quiet.
func (w *Worker) idle(now time.Time) {
	if now.Sub(w.pipeline.LastMaintenance()) >= w.config.SweepInterval {
		w.pipeline.Maintain(now)
	}
}

func (w *Worker) fail(err error) {
	slog.Error("capture worker stopped", "device", w.device, "error", err)
	metrics.CaptureStatus.Set(metrics.CaptureStatusError)
	w.state.SetFatal(err)
}

func (w *Worker) closeHandle() {
	if w.handle == nil {
		return
	}
	if err := w.handle.Close(); err != nil {
		slog.Warn("failed to close capture handle", "device", w.device, "error", err)
	}
	w.handle = nil
	metrics.CaptureStatus.Set(metrics.CaptureStatusIdle)
}

// sleep waits for d and reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
