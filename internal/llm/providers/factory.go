package providers

import (
	"fmt"
	"net/http"

	"ragchat/internal/apperr"
	"ragchat/internal/config"
	"ragchat/internal/llm"
	"ragchat/internal/llm/anthropic"
	"ragchat/internal/llm/google"
	openaillm "ragchat/internal/llm/openai"
)

// Build constructs the K-connector llm.Provider named by cfg.LLMClient.Provider:
// - openai (default): OpenAI responses/completions API
// - local: OpenAI wire shape against a self-hosted completions endpoint
// - anthropic, google: alternate provider connectors
func Build(cfg config.Config, httpClient *http.Client) (llm.Provider, error) {
	switch cfg.LLMClient.Provider {
	case "", "openai":
		return openaillm.New(cfg.LLMClient.OpenAI, httpClient), nil
	case "local":
		oc := cfg.LLMClient.OpenAI
		oc.API = "completions"
		return openaillm.New(oc, httpClient), nil
	case "anthropic":
		return anthropic.New(cfg.LLMClient.Anthropic, httpClient), nil
	case "google":
		gc, err := google.New(cfg.LLMClient.Google, httpClient)
		if err != nil {
			return nil, apperr.New(apperr.Configuration, "providers.Build", err)
		}
		return gc, nil
	default:
		return nil, apperr.New(apperr.Configuration, "providers.Build", fmt.Errorf("unsupported llm provider: %s", cfg.LLMClient.Provider))
	}
}
