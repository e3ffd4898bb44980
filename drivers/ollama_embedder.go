package drivers

// OllamaEmbedder wraps OpenAIEmbedder with Ollama-specific defaults: Ollama
// serves an OpenAI-compatible /v1/embeddings endpoint on localhost.
type OllamaEmbedder struct {
	*OpenAIEmbedder
}

const (
	ollamaDefaultEmbeddingModel = "nomic-embed-text"
	ollamaDefaultEmbeddingDims  = 768
)

// NewOllamaEmbedder creates an embedder that talks to a local Ollama server.
func NewOllamaEmbedder(cfg OpenAIEmbedderConfig) *OllamaEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.APIKey == "" {
		cfg.APIKey = "ollama"
	}
	if cfg.Model == "" {
		cfg.Model = ollamaDefaultEmbeddingModel
	}
	if cfg.Dims <= 0 {
		cfg.Dims = ollamaDefaultEmbeddingDims
	}
	return &OllamaEmbedder{OpenAIEmbedder: NewOpenAIEmbedder(cfg)}
}
