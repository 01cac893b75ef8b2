package config

import (
	"errors"
	"fmt"
	"strings"

	"ragchat/internal/apperr"
)

var (
	errMissingOpenAICreds  = errors.New("llm_client.openai: either api_key or base_url must be set")
	errMissingAnthropicKey = errors.New("llm_client.anthropic: api_key must be set")
	errMissingGoogleKey    = errors.New("llm_client.google: api_key must be set")
	errMissingRetrievalURL = errors.New("retrieval_service_url must be set")
)

func errUnknownProvider(name string) error {
	return fmt.Errorf("llm_client.provider: unknown provider %q", name)
}

// Validate checks the fields startup cannot proceed without, returning an
// *apperr.Error with Kind == apperr.Configuration on failure (§7: fatal at
// startup, user-visible clear message).
func Validate(cfg Config) error {
	switch cfg.LLMClient.Provider {
	case "openai", "local":
		if strings.TrimSpace(cfg.LLMClient.OpenAI.BaseURL) == "" && strings.TrimSpace(cfg.LLMClient.OpenAI.APIKey) == "" {
			return apperr.New(apperr.Configuration, "config.Validate", errMissingOpenAICreds)
		}
	case "anthropic":
		if strings.TrimSpace(cfg.LLMClient.Anthropic.APIKey) == "" {
			return apperr.New(apperr.Configuration, "config.Validate", errMissingAnthropicKey)
		}
	case "google":
		if strings.TrimSpace(cfg.LLMClient.Google.APIKey) == "" {
			return apperr.New(apperr.Configuration, "config.Validate", errMissingGoogleKey)
		}
	default:
		return apperr.New(apperr.Configuration, "config.Validate", errUnknownProvider(cfg.LLMClient.Provider))
	}
	if strings.TrimSpace(cfg.RetrievalServiceURL) == "" {
		return apperr.New(apperr.Configuration, "config.Validate", errMissingRetrievalURL)
	}
	return nil
}
