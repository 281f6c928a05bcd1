package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/flowscope/internal/config"
	"firestige.xyz/flowscope/internal/dashboard"
	"firestige.xyz/flowscope/internal/metrics"
	"firestige.xyz/flowscope/internal/session"
	"firestige.xyz/flowscope/internal/sink"
	"firestige.xyz/flowscope/internal/source"
)

type sessionOptions struct {
	target    string
	stopAtEOF bool
	dashboard bool
}

// runSession wires the capture worker, the sink inserter, the metrics
// server and the dashboard, and runs them until ctx is cancelled, the
// operator quits or a replay reaches the end of its file.
func runSession(ctx context.Context, cfg *config.GlobalConfig, opts sessionOptions) error {
	src, err := source.New(cfg.Capture.Backend)
	if err != nil {
		return err
	}

	inserter, err := newInserter(cfg.Sink)
	if err != nil {
		return err
	}
	var out session.Output
	if inserter != nil {
		out = inserter
	}

	state := session.NewState(cfg.Session.RingSize)
	state.SetTarget(opts.target)
	state.SetCapturing(true)

	wcfg := cfg.WorkerConfig()
	wcfg.StopAtEOF = opts.stopAtEOF
	worker := session.NewWorker(state, src, out, wcfg)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// The inserter stops only after the worker, so every record the worker
	// produced is flushed.
	sinkCtx, stopSink := context.WithCancel(context.Background())
	defer stopSink()
	if inserter != nil {
		g.Go(func() error {
			return inserter.Run(sinkCtx)
		})
	}

	g.Go(func() error {
		defer stopSink()
		err := worker.Run(gctx)
		if err != nil && opts.dashboard {
			// The dashboard keeps showing the error until the operator quits.
			return nil
		}
		if err == nil && opts.stopAtEOF {
			cancel()
		}
		return err
	})

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	if opts.dashboard {
		dash := dashboard.New(state, os.Stdout, cfg.Dashboard.RefreshInterval, cfg.Dashboard.Rows)
		g.Go(func() error {
			return dash.Run(gctx)
		})
		g.Go(func() error {
			quit, err := dashboard.Control(gctx, os.Stdin, state)
			if quit {
				cancel()
			}
			return err
		})
	}

	err = g.Wait()
	snap := state.Snapshot(1)
	slog.Info("session finished",
		"target", snap.Target,
		"frames", snap.Packets,
		"records", snap.Records)
	if inserter != nil {
		inserted, dropped, failed := inserter.Stats()
		slog.Info("sink summary", "sink", cfg.Sink.Type, "inserted", inserted, "dropped", dropped, "failed", failed)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newInserter creates the configured sink behind an AsyncInserter, or nil
// when no sink is configured.
func newInserter(sc config.SinkConfig) (*sink.AsyncInserter, error) {
	if sc.Type == config.SinkNone {
		return nil, nil
	}
	s, err := sink.New(sc.Type, sc.Options)
	if err != nil {
		return nil, fmt.Errorf("create sink: %w", err)
	}
	return sink.NewAsyncInserter(s, sc.InserterConfig()), nil
}
