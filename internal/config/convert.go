package config

import (
	"firestige.xyz/flowscope/internal/core/decoder"
	"firestige.xyz/flowscope/internal/core/stream"
	"firestige.xyz/flowscope/internal/pipeline"
	"firestige.xyz/flowscope/internal/session"
	"firestige.xyz/flowscope/internal/sink"
	"firestige.xyz/flowscope/internal/source"
)

// SourceConfig returns the handle settings for the capture backend.
func (c CaptureConfig) SourceConfig() source.Config {
	return source.Config{
		Promiscuous: c.Promiscuous,
		SnapLen:     c.SnapLen,
		ReadTimeout: c.ReadTimeout,
		Immediate:   c.Immediate,
		BufferSize:  c.BufferSize,
		BPFFilter:   c.BPFFilter,
	}
}

// PipelineConfig returns the pipeline settings. The link type is filled in
// from each opened capture handle.
func (c AnalysisConfig) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Reassembly: decoder.ReassemblyConfig{
			Timeout:         c.Reassembly.Timeout,
			MaxFragments:    c.Reassembly.MaxFragments,
			MaxDatagramSize: c.Reassembly.MaxDatagramSize,
			MaxFragsPerIP:   c.Reassembly.MaxFragsPerIP,
			RateLimitWindow: c.Reassembly.RateLimitWindow,
		},
		Streams: stream.TableConfig{
			RetentionTimeout: c.Streams.RetentionTimeout,
			HandshakeTimeout: c.Streams.HandshakeTimeout,
			TimeWaitTimeout:  c.Streams.TimeWaitTimeout,
			MaxStreams:       c.Streams.MaxStreams,
			MaxBufferBytes:   int(c.Streams.MaxBufferBytes.Bytes()),
			ResetCloses:      c.Streams.ResetCloses,
		},
		CapturePayload:   c.CapturePayload,
		MaintenanceEvery: c.MaintenanceEvery,
	}
}

// InserterConfig returns the async inserter settings.
func (c SinkConfig) InserterConfig() sink.InserterConfig {
	return sink.InserterConfig{
		Table:         c.Table,
		QueueSize:     c.QueueSize,
		BatchSize:     c.BatchSize,
		FlushInterval: c.FlushInterval,
		MaxRetries:    c.MaxRetries,
		RetryInterval: c.RetryInterval,
	}
}

// WorkerConfig assembles the capture worker settings.
func (cfg *GlobalConfig) WorkerConfig() session.WorkerConfig {
	return session.WorkerConfig{
		Capture:       cfg.Capture.SourceConfig(),
		Pipeline:      cfg.Analysis.PipelineConfig(),
		PollInterval:  cfg.Session.PollInterval,
		SweepInterval: cfg.Analysis.SweepInterval,
		SaveFile:      cfg.Capture.SaveFile,
	}
}
