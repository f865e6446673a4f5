package provider

import (
	"context"
	"fmt"
	"strings"
)

// New builds the provider selected by cfg.
func New(ctx context.Context, cfg Config) (Provider, error) {
	kind := cfg.Provider
	if kind == "" {
		kind = InferProvider(cfg.Model)
		if kind == "anthropic" && cfg.AzureFoundryEndpoint != "" {
			kind = "azure-foundry"
		}
	}

	switch kind {
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "azure-foundry":
		return NewAzureFoundryProvider(AzureFoundryConfig{
			Endpoint:    cfg.AzureFoundryEndpoint,
			APIKey:      cfg.AzureFoundryAPIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	case "gemini":
		return NewGeminiProvider(ctx, cfg)
	case "mock":
		script, err := LoadScript(strings.TrimPrefix(cfg.Model, "mock:"))
		if err != nil {
			return nil, err
		}
		return NewScriptedProvider(cfg.Model, script.Steps...), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (anthropic, azure-foundry, gemini, mock)", kind)
	}
}
