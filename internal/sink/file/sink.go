// Package file implements a sink writing JSON lines to a rotating file.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/sink"
)

// Name is the sink type used in configuration.
const Name = "file"

// Config represents file sink configuration.
type Config struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // default 100
	MaxBackups int    `mapstructure:"max_backups"`  // default 5
	MaxAgeDays int    `mapstructure:"max_age_days"` // default 7
	Compress   bool   `mapstructure:"compress"`
}

func init() {
	sink.Register(Name, func(options map[string]any) (sink.Sink, error) {
		return NewSink(options)
	})
}

// Sink appends one JSON object per row. The table name is stored in the "table" field.
type Sink struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
	closed bool
}

// NewSink creates a file sink.
func NewSink(options map[string]any) (*Sink, error) {
	cfg := Config{MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 7}
	if err := sink.DecodeOptions(options, &cfg); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required: %w", core.ErrConfigInvalid)
	}
	return &Sink{
		writer: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		},
	}, nil
}

func (s *Sink) Name() string { return Name }

func (s *Sink) Insert(_ context.Context, table string, columns []string, rows [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrSinkClosed
	}

	var buf []byte
	for _, row := range rows {
		m := sink.RowMap(columns, row)
		m["table"] = table
		line, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("json marshal failed: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	if _, err := s.writer.Write(buf); err != nil {
		return fmt.Errorf("write %s: %w", s.writer.Filename, err)
	}
	return nil
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.writer.Close()
}
