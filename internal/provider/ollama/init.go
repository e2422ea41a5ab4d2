package ollama

import (
	"canopy/internal/provider"
)

// Factory returns a provider.ProviderFactory that builds a Provider bound
// to endpoint for whatever model name provider.Pool requests. Every model
// shares the endpoint's connection settings from cfg; only Model is
// overridden per call.
func Factory(cfg Config) provider.ProviderFactory {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.KeepAlive == "" {
		cfg.KeepAlive = DefaultKeepAlive
	}

	return func(model string) (provider.Provider, error) {
		modelCfg := cfg
		modelCfg.Model = model
		return New(modelCfg), nil
	}
}
