package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Registry routes council model ids to providers. Ids carry an upstream
// namespace ("openai/gpt-5.1", "ollama/llama3"); ids whose first segment
// matches a registered provider name route there with the prefix stripped,
// everything else goes to the fallback gateway (OpenRouter), which accepts
// namespaced ids verbatim.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	fallback  string
}

// NewRegistry creates an empty registry with the given fallback provider name.
func NewRegistry(fallback string) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		fallback:  fallback,
	}
}

// Register adds a provider under its own name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns a registered provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Providers returns all registered providers.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}

// Resolve maps a council model id to a provider and the provider-local
// model name.
func (r *Registry) Resolve(model string) (Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if prefix, rest, ok := strings.Cut(model, "/"); ok {
		if p, found := r.providers[prefix]; found {
			return p, rest, nil
		}
	}
	if p, found := r.providers[r.fallback]; found {
		return p, model, nil
	}
	return nil, "", fmt.Errorf("%w: %s", ErrUnknownModel, model)
}

// Call dispatches one prompt to the given model and returns the text.
// This is the engine-facing single-call primitive; the council package
// consumes it through its Caller interface.
func (r *Registry) Call(ctx context.Context, model, system, user string) (string, error) {
	provider, localModel, err := r.Resolve(model)
	if err != nil {
		return "", err
	}

	resp, err := provider.Chat(ctx, &ChatRequest{
		Model:        localModel,
		SystemPrompt: system,
		Messages:     []Message{{Role: "user", Content: user}},
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", &CallError{Provider: provider.Name(), Kind: KindMalformed, Err: errEmptyChoices}
	}
	return resp.Content, nil
}
