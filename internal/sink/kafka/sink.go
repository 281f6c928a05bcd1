// Package kafka implements a sink producing one Kafka message per record.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/sink"
)

// Name is the sink type used in configuration.
const Name = "kafka"

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3

	// keyColumn selects the message key so one stream lands on one partition.
	keyColumn = "stream_id"
)

// Config represents Kafka sink configuration.
type Config struct {
	Brokers      []string      `mapstructure:"brokers"`       // required
	Topic        string        `mapstructure:"topic"`         // optional, defaults to the table name
	Encoding     string        `mapstructure:"encoding"`      // json|protobuf, default json
	BatchSize    int           `mapstructure:"batch_size"`    // optional, default 100
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // optional, default 100ms
	Compression  string        `mapstructure:"compression"`   // none|gzip|snappy|lz4|zstd, default snappy
	MaxAttempts  int           `mapstructure:"max_attempts"`  // optional, default 3
}

func init() {
	sink.Register(Name, func(options map[string]any) (sink.Sink, error) {
		return NewSink(options)
	})
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink writes rows to Kafka.
type Sink struct {
	writer messageWriter
	config Config
	encode func(map[string]any) ([]byte, error)
	closed atomic.Bool
}

// NewSink creates a Kafka sink.
func NewSink(options map[string]any) (*Sink, error) {
	cfg, err := parseConfig(options)
	if err != nil {
		return nil, err
	}
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // consistent routing per stream
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Compression:  codec,
	}
	slog.Info("kafka sink created",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"encoding", cfg.Encoding,
		"compression", cfg.Compression)
	return newSink(cfg, w)
}

func newSink(cfg Config, w messageWriter) (*Sink, error) {
	s := &Sink{writer: w, config: cfg}
	switch cfg.Encoding {
	case "json":
		s.encode = encodeJSON
	case "protobuf":
		s.encode = encodeProto
	default:
		return nil, fmt.Errorf("invalid encoding %q, must be json or protobuf: %w", cfg.Encoding, core.ErrConfigInvalid)
	}
	return s, nil
}

func parseConfig(options map[string]any) (Config, error) {
	cfg := Config{
		Encoding:     "json",
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Compression:  defaultCompression,
		MaxAttempts:  defaultMaxAttempts,
	}
	if err := sink.DecodeOptions(options, &cfg); err != nil {
		return cfg, err
	}
	if len(cfg.Brokers) == 0 {
		return cfg, fmt.Errorf("brokers is required: %w", core.ErrConfigInvalid)
	}
	return cfg, nil
}

func compressionCodec(name string) (kafka.Compression, error) {
	switch name {
	case "none", "":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("invalid compression type %q: %w", name, core.ErrConfigInvalid)
	}
}

func (s *Sink) Name() string { return Name }

// Insert sends one message per row. When no topic is configured the table
// name is used as the topic.
func (s *Sink) Insert(ctx context.Context, table string, columns []string, rows [][]string) error {
	if s.closed.Load() {
		return core.ErrSinkClosed
	}

	msgs := make([]kafka.Message, 0, len(rows))
	for _, row := range rows {
		m := sink.RowMap(columns, row)
		fields := make(map[string]any, len(m))
		for k, v := range m {
			fields[k] = v
		}
		value, err := s.encode(fields)
		if err != nil {
			return fmt.Errorf("encode row: %w", err)
		}

		msg := kafka.Message{
			Key:     []byte(m[keyColumn]),
			Value:   value,
			Headers: []kafka.Header{{Key: "table", Value: []byte(table)}},
		}
		if s.config.Topic == "" {
			msg.Topic = table
		}
		msgs = append(msgs, msg)
	}

	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write failed: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

func encodeJSON(fields map[string]any) ([]byte, error) {
	return json.Marshal(fields)
}

// encodeProto encodes the row as a google.protobuf.Struct.
func encodeProto(fields map[string]any) ([]byte, error) {
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}
