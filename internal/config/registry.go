package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/earshot-audio/earshot/pkg/provider/diarizer"
	"github.com/earshot-audio/earshot/pkg/provider/embedder"
	"github.com/earshot-audio/earshot/pkg/provider/llm"
	"github.com/earshot-audio/earshot/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// capability. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	diarizer map[string]func(ProviderEntry) (diarizer.Provider, error)
	embedder map[string]func(ProviderEntry) (embedder.Provider, error)
	stt      map[string]func(ProviderEntry) (stt.Transcriber, error)
	llm      map[string]func(ProviderEntry) (llm.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		diarizer: make(map[string]func(ProviderEntry) (diarizer.Provider, error)),
		embedder: make(map[string]func(ProviderEntry) (embedder.Provider, error)),
		stt:      make(map[string]func(ProviderEntry) (stt.Transcriber, error)),
		llm:      make(map[string]func(ProviderEntry) (llm.Provider, error)),
	}
}

// RegisterDiarizer registers a diarization provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDiarizer(name string, factory func(ProviderEntry) (diarizer.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diarizer[name] = factory
}

// RegisterEmbedder registers an embedding provider factory under name.
func (r *Registry) RegisterEmbedder(name string, factory func(ProviderEntry) (embedder.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedder[name] = factory
}

// RegisterSTT registers a clip transcriber factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// CreateDiarizer instantiates a diarization provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateDiarizer(entry ProviderEntry) (diarizer.Provider, error) {
	r.mu.RLock()
	factory, ok := r.diarizer[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: diarizer/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmbedder instantiates an embedding provider using the factory
// registered under entry.Name.
func (r *Registry) CreateEmbedder(entry ProviderEntry) (embedder.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embedder[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embedder/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT instantiates a clip transcriber using the factory registered
// under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM instantiates an LLM provider using the factory registered under
// entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
