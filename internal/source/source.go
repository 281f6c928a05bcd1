// Package source defines capture sources and the registry of capture backends.
package source

import (
	"fmt"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/gobwas/glob"
	"github.com/google/gopacket/layers"

	"firestige.xyz/flowscope/internal/core"
)

// Device describes one capturable interface, or a file for offline backends.
type Device struct {
	Name        string
	Description string
	Addresses   []netip.Addr
}

// Config enumerates the options of an open capture handle.
type Config struct {
	Promiscuous bool
	SnapLen     int
	ReadTimeout time.Duration     // Longest a NextFrame call blocks before core.ErrCaptureTimeout
	Immediate   bool              // Deliver frames as they arrive instead of buffering
	BufferSize  datasize.ByteSize // Kernel buffer size
	BPFFilter   string
}

// DefaultConfig returns the capture defaults.
func DefaultConfig() Config {
	return Config{
		Promiscuous: true,
		SnapLen:     65535,
		ReadTimeout: 100 * time.Millisecond,
		Immediate:   true,
		BufferSize:  16 * datasize.MB,
	}
}

// Handle produces frames from an open capture.
type Handle interface {
	// NextFrame blocks until a frame arrives. It returns core.ErrCaptureTimeout
	// when the read timeout expires and io.EOF at the end of a file.
	// Frame data is only valid until the next call.
	NextFrame() (core.RawPacket, error)
	LinkType() layers.LinkType
	Close() error
}

// Source opens capture handles.
type Source interface {
	ListDevices() ([]Device, error)
	Open(device string, cfg Config) (Handle, error)
}

// Factory creates a Source.
type Factory func() Source

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend available by name. Backends call it from init.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("source: backend registered twice: " + name)
	}
	registry[name] = f
}

// New creates the backend registered under name.
func New(name string) (Source, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("capture backend %q not available (have %v): %w", name, Backends(), core.ErrConfigInvalid)
	}
	return f(), nil
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// MatchDevices returns the devices whose name matches the glob pattern.
// An empty pattern matches everything.
func MatchDevices(devices []Device, pattern string) ([]Device, error) {
	if pattern == "" {
		return devices, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("device pattern %q: %w", pattern, err)
	}

	var matched []Device
	for _, d := range devices {
		if g.Match(d.Name) {
			matched = append(matched, d)
		}
	}
	return matched, nil
}

// Resolve turns a device name or glob into a single device name.
// Patterns without glob metacharacters are returned as is so that
// file paths and interfaces not reported by ListDevices still open.
func Resolve(src Source, pattern string) (string, error) {
	if pattern == "" {
		return "", core.ErrNoTarget
	}
	if !isGlob(pattern) {
		return pattern, nil
	}

	devices, err := src.ListDevices()
	if err != nil {
		return "", fmt.Errorf("list devices: %w", err)
	}
	matched, err := MatchDevices(devices, pattern)
	if err != nil {
		return "", err
	}
	if len(matched) == 0 {
		return "", fmt.Errorf("no device matches %q: %w", pattern, core.ErrNoTarget)
	}
	return matched[0].Name, nil
}

func isGlob(s string) bool {
	for _, c := range s {
		switch c {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}
