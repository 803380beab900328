package providers

import (
	"net/http"
	"sync"
	"time"

	"github.com/chatbattles/chatbattles/internal/config"
	"github.com/chatbattles/chatbattles/internal/types"
)

// Registry holds one constructed adapter per provider family. Adapters are
// built once from configuration; no runtime mutation besides hot reload.
type Registry struct {
	mu       sync.RWMutex
	adapters map[types.ProviderFamily]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[types.ProviderFamily]Adapter),
	}
}

func (r *Registry) Register(family types.ProviderFamily, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[family] = adapter
}

func (r *Registry) Get(family types.ProviderFamily) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[family]
	return a, ok
}

// GetStreaming returns the family's adapter if it supports streaming.
func (r *Registry) GetStreaming(family types.ProviderFamily) (StreamingAdapter, bool) {
	a, ok := r.Get(family)
	if !ok {
		return nil, false
	}
	sa, ok := a.(StreamingAdapter)
	return sa, ok
}

// BuildFromConfig constructs adapters from the providers config, keyed by
// family name. Unconfigured families simply stay absent; a missing api_key is
// carried into the adapter and surfaces only when that provider is invoked.
func BuildFromConfig(provCfg *config.ProvidersConfig) *Registry {
	registry := NewRegistry()
	for name, cfg := range provCfg.Providers {
		client := &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.MaxConcurrent,
				MaxIdleConnsPerHost: cfg.MaxConcurrent,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}

		family := types.ProviderFamily(name)
		switch family {
		case types.FamilyChatCompletion:
			registry.Register(family, NewChatAdapter("openrouter", family, cfg, client))
		case types.FamilySecondaryChat:
			registry.Register(family, NewChatAdapter("groq", family, cfg, client))
		case types.FamilyMultimodal:
			registry.Register(family, NewGeminiAdapter(cfg, client))
		}
	}
	return registry
}
