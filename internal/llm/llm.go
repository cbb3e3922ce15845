package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/newscheck/config"
	openai_provider "github.com/mohammad-safakhou/newscheck/internal/llm/openai"
)

// ErrTimeout is returned when a model call exceeds the configured deadline.
// Callers map it to a gateway-timeout response.
var ErrTimeout = openai_provider.ErrTimeout

// CommError reports a transport or upstream failure talking to a model
// provider, as opposed to a timeout.
type CommError = openai_provider.CommError

// Provider is a chat-completion backend that turns one prompt into one text
// response.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

const (
	openaiBaseURL     = "https://api.openai.com/v1"
	perplexityBaseURL = "https://api.perplexity.ai"
)

// New creates a model client from config. Both supported providers speak the
// chat-completions dialect, so one client covers them with different base
// URLs and defaults.
func New(cfg config.LLMConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm api key is not set")
	}
	baseURL := cfg.BaseURL
	model := cfg.Model
	switch cfg.Provider {
	case "openai":
		if baseURL == "" {
			baseURL = openaiBaseURL
		}
		if model == "" {
			model = "gpt-4o"
		}
	case "perplexity":
		if baseURL == "" {
			baseURL = perplexityBaseURL
		}
		if model == "" {
			model = "sonar-pro"
		}
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	return openai_provider.NewClient(cfg.Provider, baseURL, cfg.APIKey, model, cfg.Temperature, cfg.MaxTokens, cfg.Timeout), nil
}
