// Package sink delivers analyzed records to external stores.
package sink

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/go-viper/mapstructure/v2"

	"firestige.xyz/flowscope/internal/core"
)

// Sink accepts rows in bulk. Columns are shared by all rows of one call.
type Sink interface {
	Name() string
	Insert(ctx context.Context, table string, columns []string, rows [][]string) error
	Close() error
}

// Factory creates a sink from its raw option map.
type Factory func(options map[string]any) (Sink, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a sink type available by name. Sinks call it from init.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("sink: type registered twice: " + name)
	}
	registry[name] = f
}

// New creates the sink registered under name.
func New(name string, options map[string]any) (Sink, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("sink type %q not available (have %v): %w", name, Types(), core.ErrConfigInvalid)
	}
	s, err := f(options)
	if err != nil {
		return nil, fmt.Errorf("sink %s: %w", name, err)
	}
	return s, nil
}

// Types returns the registered sink types, sorted.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DecodeOptions decodes a raw option map into out, a pointer to a struct
// with mapstructure tags. Unknown keys are rejected.
func DecodeOptions(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("decode options: %v: %w", err, core.ErrConfigInvalid)
	}
	return nil
}

// RowMap pairs one row with its column names.
func RowMap(columns, row []string) map[string]string {
	m := make(map[string]string, len(columns))
	for i, c := range columns {
		if i < len(row) {
			m[c] = row[i]
		}
	}
	return m
}
