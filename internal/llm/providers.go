package llm

import "github.com/askdb/askdb/internal/config"

// NewFromConfig creates a multi-provider LLM client from the application
// config. Only providers with configured API keys are activated; fallback
// order follows the order below.
func NewFromConfig(cfg config.LLMConfig) *Client {
	var providers []Provider

	if cfg.DeepSeekAPIKey != "" {
		providers = append(providers, NewOpenAIProvider(OpenAIConfig{
			Name:         "deepseek",
			BaseURL:      "https://api.deepseek.com/v1",
			APIKey:       cfg.DeepSeekAPIKey,
			Models:       []string{"deepseek-chat", "deepseek-reasoner"},
			DefaultModel: "deepseek-chat",
		}))
	}

	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, NewOpenAIProvider(OpenAIConfig{
			Name:         "openai",
			BaseURL:      "https://api.openai.com/v1",
			APIKey:       cfg.OpenAIAPIKey,
			Models:       []string{"gpt-4o", "gpt-4o-mini"},
			DefaultModel: "gpt-4o-mini",
		}))
	}

	if cfg.GroqAPIKey != "" {
		providers = append(providers, NewOpenAIProvider(OpenAIConfig{
			Name:         "groq",
			BaseURL:      "https://api.groq.com/openai/v1",
			APIKey:       cfg.GroqAPIKey,
			Models:       []string{"llama-3.3-70b-versatile", "llama-3.1-8b-instant"},
			DefaultModel: "llama-3.3-70b-versatile",
		}))
	}

	if cfg.OpenRouterKey != "" {
		providers = append(providers, NewOpenAIProvider(OpenAIConfig{
			Name:         "openrouter",
			BaseURL:      "https://openrouter.ai/api/v1",
			APIKey:       cfg.OpenRouterKey,
			Models:       []string{"deepseek/deepseek-chat", "meta-llama/llama-3.3-70b-instruct"},
			DefaultModel: "deepseek/deepseek-chat",
		}))
	}

	// A custom endpoint (local inference, proxies) takes lowest precedence
	// unless it is the only provider.
	if cfg.CustomBaseURL != "" {
		providers = append(providers, NewOpenAIProvider(OpenAIConfig{
			Name:         "custom",
			BaseURL:      cfg.CustomBaseURL,
			APIKey:       cfg.CustomAPIKey,
			DefaultModel: cfg.Model,
		}))
	}

	return New(providers)
}
