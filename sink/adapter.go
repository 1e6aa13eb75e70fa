package sink

import (
	"context"
	"errors"
	"fmt"

	"conductor/extract"
)

// Adapter is the common behaviour every sink exposes. It deliberately
// matches extract.Processor so a built sink can be handed straight to an
// extractor.
type Adapter interface {
	Process(context.Context, *extract.Record) error
	Close() error // idempotent
}

var (
	// ErrUnknownType means the requested processor type was never registered.
	ErrUnknownType = errors.New("unknown processor type")
	// ErrBadConfig means the type is known but its config is unusable.
	ErrBadConfig = errors.New("bad processor config")
)

/*──────── registry ───────*/

type factory = func(config map[string]any) (Adapter, error)

var reg = map[string]factory{}

// Register is called from each driver's init(). The table is closed to
// modification after startup.
func Register(name string, f factory) { reg[name] = f }

// Build constructs a sink from its declared type tag and opaque config.
func Build(name string, config map[string]any) (Adapter, error) {
	f, ok := reg[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return f(config)
}

// Types lists the registered type tags.
func Types() []string {
	out := make([]string, 0, len(reg))
	for name := range reg {
		out = append(out, name)
	}
	return out
}

/*──────── config helpers ───────*/

// StringField extracts a required string key from an opaque config map.
func StringField(config map[string]any, key string) (string, error) {
	v, ok := config[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrBadConfig, key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %q must be a non-empty string", ErrBadConfig, key)
	}
	return s, nil
}

// OptStringField extracts an optional string key, returning def when absent.
func OptStringField(config map[string]any, key, def string) (string, error) {
	v, ok := config[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string", ErrBadConfig, key)
	}
	return s, nil
}
