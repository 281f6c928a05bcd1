// Package console implements a sink printing records to stdout for debugging.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"firestige.xyz/flowscope/internal/sink"
)

// Name is the sink type used in configuration.
const Name = "console"

// Config represents console sink configuration.
type Config struct {
	Format string `mapstructure:"format"` // "json" or "text", default "json"
}

func init() {
	sink.Register(Name, func(options map[string]any) (sink.Sink, error) {
		return NewSink(os.Stdout, options)
	})
}

// Sink writes one line per row.
type Sink struct {
	mu     sync.Mutex
	out    io.Writer
	format string
}

// NewSink creates a console sink writing to out.
func NewSink(out io.Writer, options map[string]any) (*Sink, error) {
	cfg := Config{Format: "json"}
	if err := sink.DecodeOptions(options, &cfg); err != nil {
		return nil, err
	}
	if cfg.Format != "json" && cfg.Format != "text" {
		return nil, fmt.Errorf("invalid format %q, must be json or text", cfg.Format)
	}
	return &Sink{out: out, format: cfg.Format}, nil
}

func (s *Sink) Name() string { return Name }

func (s *Sink) Insert(_ context.Context, table string, columns []string, rows [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		m := sink.RowMap(columns, row)
		if s.format == "json" {
			data, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("json marshal failed: %w", err)
			}
			if _, err := fmt.Fprintln(s.out, string(data)); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(s.out, "[%s] %s %s:%s -> %s:%s %s %s len=%s\n",
			m["arrival_time"], table,
			m["src_ip"], m["src_port"],
			m["dst_ip"], m["dst_port"],
			m["tcp_state"], m["application_protocol"], m["payload_length"]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Close() error {
	return nil
}
