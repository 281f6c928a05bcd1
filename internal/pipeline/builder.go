package pipeline

import (
	"github.com/google/gopacket/layers"

	"firestige.xyz/flowscope/internal/core/decoder"
	"firestige.xyz/flowscope/internal/core/stream"
)

// Builder provides a fluent interface for building pipelines.
// This is an alternative to using Config directly.
type Builder struct {
	config Config
}

// NewBuilder creates a builder for Ethernet frames with default limits.
func NewBuilder() *Builder {
	return &Builder{
		config: Config{
			LinkType:         layers.LinkTypeEthernet,
			Streams:          stream.DefaultTableConfig(),
			MaintenanceEvery: defaultMaintenanceEvery,
		},
	}
}

// WithLinkType sets the link type of incoming frames.
func (b *Builder) WithLinkType(lt layers.LinkType) *Builder {
	b.config.LinkType = lt
	return b
}

// WithReassembly sets the fragment reassembly limits.
func (b *Builder) WithReassembly(cfg decoder.ReassemblyConfig) *Builder {
	b.config.Reassembly = cfg
	return b
}

// WithStreams sets the stream table limits.
func (b *Builder) WithStreams(cfg stream.TableConfig) *Builder {
	b.config.Streams = cfg
	return b
}

// WithPayloadCapture enables copying TCP payloads into records.
func (b *Builder) WithPayloadCapture(enabled bool) *Builder {
	b.config.CapturePayload = enabled
	return b
}

// WithMaintenanceEvery sets the frame count between maintenance runs.
func (b *Builder) WithMaintenanceEvery(n uint64) *Builder {
	b.config.MaintenanceEvery = n
	return b
}

// Build creates the pipeline.
func (b *Builder) Build() *Pipeline {
	return New(b.config)
}
