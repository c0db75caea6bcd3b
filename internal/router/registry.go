package router

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/af-corp/vllm-gateway/internal/config"
	"github.com/af-corp/vllm-gateway/internal/types"
)

// Backend is a resolved inference service.
type Backend struct {
	Model   string
	BaseURL string
}

// ChatCompletionsURL is the streaming endpoint requests are forwarded to.
func (b Backend) ChatCompletionsURL() string {
	return b.BaseURL + "/v1/chat/completions"
}

// Registry maps model identifiers to backends. It is never modified after NewRegistry
// returns, so it can be shared by all requests without locking.
type Registry struct {
	backends map[string]Backend
	models   []string
}

// NewRegistry validates the model → address mapping and builds an immutable registry.
func NewRegistry(backends map[string]string) (*Registry, error) {
	if err := config.ValidateBackends(backends); err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	r := &Registry{
		backends: make(map[string]Backend, len(backends)),
	}
	for model, addr := range backends {
		r.backends[model] = Backend{
			Model:   model,
			BaseURL: strings.TrimRight(addr, "/"),
		}
	}
	r.models = slices.Sorted(maps.Keys(r.backends))
	return r, nil
}

// Resolve performs an exact, case-sensitive lookup.
func (r *Registry) Resolve(model string) (Backend, error) {
	b, ok := r.backends[model]
	if !ok {
		return Backend{}, &types.ModelNotFoundError{Model: model}
	}
	return b, nil
}

// Models returns the configured model identifiers in sorted order.
func (r *Registry) Models() []string {
	return slices.Clone(r.models)
}

// Router resolves requests against the current registry snapshot. A config reload
// replaces the snapshot as a whole; requests in flight keep the one they resolved against.
type Router struct {
	current atomic.Pointer[Registry]
}

func New(registry *Registry) *Router {
	rt := &Router{}
	rt.current.Store(registry)
	return rt
}

func (rt *Router) Resolve(model string) (Backend, error) {
	return rt.current.Load().Resolve(model)
}

func (rt *Router) Registry() *Registry {
	return rt.current.Load()
}

// Swap installs a new registry snapshot.
func (rt *Router) Swap(registry *Registry) {
	rt.current.Store(registry)
}
