package drivers

import "fmt"

// NewEmbedder creates an Embedder for the given provider name.
// Supported: "openai", "gemini" (OpenAI-compatible), "ollama".
func NewEmbedder(provider string, cfg OpenAIEmbedderConfig) (Embedder, error) {
	switch provider {
	case "openai":
		return NewOpenAIEmbedder(cfg), nil
	case "gemini":
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
		}
		return NewOpenAIEmbedder(cfg), nil
	case "ollama":
		return NewOllamaEmbedder(cfg), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", provider)
	}
}
