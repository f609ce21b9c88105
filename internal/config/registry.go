package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nkhattar/vaani/pkg/speech"
)

// ErrProviderNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// TranscriberFactory builds a transcriber from the speech config block. The
// context covers client construction only, not later Transcribe calls.
type TranscriberFactory func(ctx context.Context, cfg SpeechConfig) (speech.Transcriber, error)

// Registry maps speech provider names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[Provider]TranscriberFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Provider]TranscriberFactory),
	}
}

// Register registers a transcriber factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name Provider, factory TranscriberFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates a transcriber using the factory registered under
// cfg.Provider. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) Create(ctx context.Context, cfg SpeechConfig) (speech.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: speech/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(ctx, cfg)
}
