// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"firestige.xyz/flowscope/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `flowscope:` root key in YAML.
type GlobalConfig struct {
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Capture   CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Analysis  AnalysisConfig  `mapstructure:"analysis" yaml:"analysis"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	Sink      SinkConfig      `mapstructure:"sink" yaml:"sink"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`     // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"`   // json / text
	Console string           `mapstructure:"console" yaml:"console"` // stdout / stderr / none
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains additional log destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Capture ───

// CaptureConfig selects the capture backend and its handle settings.
type CaptureConfig struct {
	Backend     string            `mapstructure:"backend" yaml:"backend"` // pcap | afpacket | file
	Device      string            `mapstructure:"device" yaml:"device"`   // Device name, glob pattern or file path
	Promiscuous bool              `mapstructure:"promiscuous" yaml:"promiscuous"`
	SnapLen     int               `mapstructure:"snap_len" yaml:"snap_len"`
	ReadTimeout time.Duration     `mapstructure:"read_timeout" yaml:"read_timeout"`
	Immediate   bool              `mapstructure:"immediate" yaml:"immediate"`
	BufferSize  datasize.ByteSize `mapstructure:"buffer_size" yaml:"buffer_size"`
	BPFFilter   string            `mapstructure:"bpf_filter" yaml:"bpf_filter"`
	SaveFile    string            `mapstructure:"save_file" yaml:"save_file"` // Optional pcap copy of every frame read
}

// ─── Analysis ───

// AnalysisConfig configures the packet pipeline.
type AnalysisConfig struct {
	CapturePayload   bool             `mapstructure:"capture_payload" yaml:"capture_payload"`
	MaintenanceEvery uint64           `mapstructure:"maintenance_every" yaml:"maintenance_every"` // Frames between maintenance runs
	SweepInterval    time.Duration    `mapstructure:"sweep_interval" yaml:"sweep_interval"`       // Idle maintenance period
	Reassembly       ReassemblyConfig `mapstructure:"reassembly" yaml:"reassembly"`
	Streams          StreamsConfig    `mapstructure:"streams" yaml:"streams"`
}

// ReassemblyConfig controls IPv4 fragment reassembly.
type ReassemblyConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxFragments    int           `mapstructure:"max_fragments" yaml:"max_fragments"`
	MaxDatagramSize int           `mapstructure:"max_datagram_size" yaml:"max_datagram_size"`
	MaxFragsPerIP   int           `mapstructure:"max_frags_per_ip" yaml:"max_frags_per_ip"` // 0 = disabled
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window" yaml:"rate_limit_window"`
}

// StreamsConfig controls the TCP stream table.
type StreamsConfig struct {
	RetentionTimeout time.Duration     `mapstructure:"retention_timeout" yaml:"retention_timeout"`
	HandshakeTimeout time.Duration     `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	TimeWaitTimeout  time.Duration     `mapstructure:"time_wait_timeout" yaml:"time_wait_timeout"`
	MaxStreams       int               `mapstructure:"max_streams" yaml:"max_streams"`
	MaxBufferBytes   datasize.ByteSize `mapstructure:"max_buffer_bytes" yaml:"max_buffer_bytes"` // Per direction, 0 = unlimited
	ResetCloses      bool              `mapstructure:"reset_closes" yaml:"reset_closes"`         // RST aborts the stream
}

// ─── Session ───

// SessionConfig sizes the shared session state.
type SessionConfig struct {
	RingSize     int           `mapstructure:"ring_size" yaml:"ring_size"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// ─── Sink ───

// SinkConfig selects the record sink. Options are decoded by the sink itself.
type SinkConfig struct {
	Type          string         `mapstructure:"type" yaml:"type"` // kafka | file | console | none
	Table         string         `mapstructure:"table" yaml:"table"`
	QueueSize     int            `mapstructure:"queue_size" yaml:"queue_size"`
	BatchSize     int            `mapstructure:"batch_size" yaml:"batch_size"`
	FlushInterval time.Duration  `mapstructure:"flush_interval" yaml:"flush_interval"`
	MaxRetries    uint           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryInterval time.Duration  `mapstructure:"retry_interval" yaml:"retry_interval"`
	Options       map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

// SinkNone disables record delivery.
const SinkNone = "none"

// ─── Dashboard ───

// DashboardConfig controls the terminal display.
type DashboardConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval"`
	Rows            int           `mapstructure:"rows" yaml:"rows"` // 0 = fit the terminal
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `flowscope: ...`.
type configRoot struct {
	Flowscope GlobalConfig `mapstructure:"flowscope"`
}

// Load loads configuration from file. An empty path yields the defaults
// merged with environment overrides. Env vars use the FLOWSCOPE_ prefix
// (e.g., FLOWSCOPE_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `flowscope.` key prefix maps to `FLOWSCOPE_` through the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Flowscope

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// decodeHook handles durations, comma separated lists and datasize text such as "16MB".
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// setDefaults sets default values for configuration.
// All keys use the "flowscope." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("flowscope.log.level", "info")
	v.SetDefault("flowscope.log.format", "text")
	v.SetDefault("flowscope.log.console", "stderr")
	v.SetDefault("flowscope.log.outputs.file.enabled", false)
	v.SetDefault("flowscope.log.outputs.file.path", "/var/log/flowscope/flowscope.log")
	v.SetDefault("flowscope.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("flowscope.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("flowscope.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("flowscope.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("flowscope.metrics.enabled", false)
	v.SetDefault("flowscope.metrics.listen", ":9091")
	v.SetDefault("flowscope.metrics.path", "/metrics")

	// Capture defaults
	v.SetDefault("flowscope.capture.backend", "pcap")
	v.SetDefault("flowscope.capture.device", "")
	v.SetDefault("flowscope.capture.promiscuous", true)
	v.SetDefault("flowscope.capture.snap_len", 65535)
	v.SetDefault("flowscope.capture.read_timeout", "100ms")
	v.SetDefault("flowscope.capture.immediate", true)
	v.SetDefault("flowscope.capture.buffer_size", "16MB")
	v.SetDefault("flowscope.capture.bpf_filter", "")
	v.SetDefault("flowscope.capture.save_file", "")

	// Analysis defaults
	v.SetDefault("flowscope.analysis.capture_payload", true)
	v.SetDefault("flowscope.analysis.maintenance_every", 1024)
	v.SetDefault("flowscope.analysis.sweep_interval", "5s")
	v.SetDefault("flowscope.analysis.reassembly.timeout", "30s")
	v.SetDefault("flowscope.analysis.reassembly.max_fragments", 100)
	v.SetDefault("flowscope.analysis.reassembly.max_datagram_size", 65535)
	v.SetDefault("flowscope.analysis.reassembly.max_frags_per_ip", 0)
	v.SetDefault("flowscope.analysis.reassembly.rate_limit_window", "10s")
	v.SetDefault("flowscope.analysis.streams.retention_timeout", "300s")
	v.SetDefault("flowscope.analysis.streams.handshake_timeout", "300s")
	v.SetDefault("flowscope.analysis.streams.time_wait_timeout", "120s")
	v.SetDefault("flowscope.analysis.streams.max_streams", 65536)
	v.SetDefault("flowscope.analysis.streams.max_buffer_bytes", "1MB")
	v.SetDefault("flowscope.analysis.streams.reset_closes", false)

	// Session defaults
	v.SetDefault("flowscope.session.ring_size", 1000)
	v.SetDefault("flowscope.session.poll_interval", "50ms")

	// Sink defaults
	v.SetDefault("flowscope.sink.type", SinkNone)
	v.SetDefault("flowscope.sink.table", "packets")
	v.SetDefault("flowscope.sink.queue_size", 4096)
	v.SetDefault("flowscope.sink.batch_size", 256)
	v.SetDefault("flowscope.sink.flush_interval", "1s")
	v.SetDefault("flowscope.sink.max_retries", 3)
	v.SetDefault("flowscope.sink.retry_interval", "100ms")

	// Dashboard defaults
	v.SetDefault("flowscope.dashboard.enabled", true)
	v.SetDefault("flowscope.dashboard.refresh_interval", "500ms")
	v.SetDefault("flowscope.dashboard.rows", 0)
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return invalid("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return invalid("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	switch cfg.Log.Console {
	case "":
		cfg.Log.Console = "stderr"
	case "stdout", "stderr", "none":
	default:
		return invalid("invalid log console: %s (must be stdout/stderr/none)", cfg.Log.Console)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return invalid("log.outputs.file.path is required when file output is enabled")
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return invalid("metrics.listen is required when metrics.enabled=true")
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// ── Capture ──
	switch cfg.Capture.Backend {
	case "pcap", "afpacket", "file":
	default:
		return invalid("unsupported capture.backend: %s (must be pcap/afpacket/file)", cfg.Capture.Backend)
	}
	if cfg.Capture.SnapLen <= 0 || cfg.Capture.SnapLen > 262144 {
		return invalid("capture.snap_len out of range: %d", cfg.Capture.SnapLen)
	}

	// ── Analysis ──
	if cfg.Analysis.Streams.MaxStreams <= 0 {
		return invalid("analysis.streams.max_streams must be positive")
	}
	if cfg.Analysis.Reassembly.MaxDatagramSize > 65535 {
		return invalid("analysis.reassembly.max_datagram_size cannot exceed 65535")
	}

	// ── Sink ──
	switch cfg.Sink.Type {
	case "":
		cfg.Sink.Type = SinkNone
	case SinkNone, "kafka", "file", "console":
	default:
		return invalid("unsupported sink.type: %s (must be kafka/file/console/none)", cfg.Sink.Type)
	}
	if cfg.Sink.Table == "" {
		cfg.Sink.Table = "packets"
	}

	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, core.ErrConfigInvalid)...)
}
