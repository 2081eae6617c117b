package app

import (
	"fmt"

	"github.com/ent0n29/companion/internal/config"
	"github.com/ent0n29/companion/internal/gateway"
)

type gateways struct {
	embedder    gateway.Embedder
	completer   gateway.Completer
	transcriber gateway.Transcriber
	cache       *gateway.CachedEmbedder
	// detail names the resolved providers for startup logs.
	embedProvider    string
	completeProvider string
}

func resolveGateways(cfg config.Config) (gateways, error) {
	var gw gateways

	var oa *gateway.OpenAI
	newOpenAI := func() *gateway.OpenAI {
		if oa == nil {
			oa = gateway.NewOpenAI(gateway.OpenAIConfig{
				APIKey:          cfg.OpenAIAPIKey,
				BaseURL:         cfg.OpenAIBaseURL,
				ChatModel:       cfg.OpenAIChatModel,
				EmbeddingModel:  cfg.OpenAIEmbeddingModel,
				EmbeddingDim:    cfg.MemoryEmbeddingDim,
				TranscribeModel: cfg.OpenAITranscribeModel,
				Language:        cfg.TranscribeLanguage,
			})
		}
		return oa
	}

	provider := cfg.GatewayProvider
	if provider == "auto" || provider == "" {
		provider = "mock"
		if cfg.OpenAIAPIKey != "" {
			provider = "openai"
		}
	}
	switch provider {
	case "openai":
		gw.embedder = newOpenAI()
		gw.transcriber = newOpenAI()
	case "mock":
		gw.embedder = gateway.HashEmbedder{Dim: cfg.MemoryEmbeddingDim}
		gw.transcriber = gateway.TextTranscriber{}
	default:
		return gateways{}, fmt.Errorf("unknown gateway provider %q", provider)
	}
	gw.embedProvider = provider

	completion := cfg.CompletionProvider
	if completion == "auto" || completion == "" {
		switch {
		case cfg.OpenAIAPIKey != "":
			completion = "openai"
		case cfg.AnthropicAPIKey != "":
			completion = "anthropic"
		default:
			completion = "mock"
		}
	}
	switch completion {
	case "openai":
		gw.completer = newOpenAI()
	case "anthropic":
		gw.completer = gateway.NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	case "mock":
		gw.completer = &gateway.MockCompleter{}
	default:
		return gateways{}, fmt.Errorf("unknown completion provider %q", completion)
	}
	gw.completeProvider = completion

	if cfg.EmbeddingCacheItems > 0 {
		cache, err := gateway.NewCachedEmbedder(gw.embedder, cfg.EmbeddingCacheItems)
		if err != nil {
			return gateways{}, fmt.Errorf("embedding cache init failed: %w", err)
		}
		gw.cache = cache
		gw.embedder = cache
	}
	return gw, nil
}

func (gw gateways) close() {
	if gw.cache != nil {
		gw.cache.Close()
	}
}
