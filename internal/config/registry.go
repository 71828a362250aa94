package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/aria-ai/aria/pkg/provider/llm"
	"github.com/aria-ai/aria/pkg/provider/stt"
	"github.com/aria-ai/aria/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned when a provider entry names a vendor
// nobody registered.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// DefaultSTTName is the transcription provider used when none is configured.
const DefaultSTTName = "local"

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories holds the constructors of one pipeline stage.
type factories[T any] struct {
	stage string
	byName map[string]Factory[T]
}

func newFactories[T any](stage string) factories[T] {
	return factories[T]{stage: stage, byName: make(map[string]Factory[T])}
}

func (f factories[T]) create(entry ProviderEntry) (T, error) {
	build, ok := f.byName[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.stage, entry.Name)
	}
	p, err := build(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: build %s/%q: %w", f.stage, entry.Name, err)
	}
	return p, nil
}

func (f factories[T]) names() []string {
	out := make([]string, 0, len(f.byName))
	for name := range f.byName {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Registry resolves vendor names from the providers section to constructors,
// one table per pipeline stage. Registering a name twice replaces the
// earlier factory. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	stt factories[stt.Provider]
	llm factories[llm.Provider]
	tts factories[tts.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt: newFactories[stt.Provider]("stt"),
		llm: newFactories[llm.Provider]("llm"),
		tts: newFactories[tts.Provider]("tts"),
	}
}

// RegisterSTT registers a transcription vendor.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	r.stt.byName[name] = f
	r.mu.Unlock()
}

// RegisterLLM registers a reply generator.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	r.llm.byName[name] = f
	r.mu.Unlock()
}

// RegisterTTS registers a speech synthesizer.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	r.tts.byName[name] = f
	r.mu.Unlock()
}

// CreateSTT builds the transcription vendor named by entry. An empty name
// selects [DefaultSTTName].
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	if entry.Name == "" {
		entry.Name = DefaultSTTName
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateLLM builds the reply generator named by entry.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

// CreateTTS builds the speech synthesizer named by entry.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry)
}

// Registered lists the registered vendor names per stage, sorted.
func (r *Registry) Registered() (sttNames, llmNames, ttsNames []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.names(), r.llm.names(), r.tts.names()
}
