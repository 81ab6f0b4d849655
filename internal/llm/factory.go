package llm

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/council/internal/config"
)

// BuildRegistry assembles the provider registry from the gateway
// configuration. Every provider is wrapped with a circuit breaker and
// call metrics; the returned snapshot map is keyed by provider name for
// health reporting.
func BuildRegistry(cfg config.GatewaysConfig, log zerolog.Logger) (*Registry, map[string]*MetricsProvider) {
	registry := NewRegistry(cfg.Default)
	metrics := make(map[string]*MetricsProvider)

	wrap := func(p Provider) {
		breaker := NewBreakerProvider(p, DefaultBreakerConfig(), log)
		m := NewMetricsProvider(breaker)
		metrics[p.Name()] = m
		registry.Register(m)
	}

	wrap(NewOpenRouterProvider(providerConfig("openrouter", cfg.OpenRouter)))
	if cfg.Ollama.Endpoint != "" {
		wrap(NewOllamaProvider(providerConfig("ollama", cfg.Ollama)))
	}
	return registry, metrics
}

func providerConfig(name string, gw config.GatewayConfig) *ProviderConfig {
	pc := DefaultProviderConfig(name)
	if gw.Endpoint != "" {
		pc.Endpoint = gw.Endpoint
	}
	pc.APIKey = gw.APIKey
	if gw.TimeoutSec > 0 {
		pc.Timeout = time.Duration(gw.TimeoutSec) * time.Second
	}
	return pc
}
