// Package drivers holds the pluggable external-service clients the engine
// depends on through narrow interfaces: an Embedder for the semantic index
// and a Summariser for page summary generation. Concrete implementations
// talk to OpenAI- or Ollama-compatible HTTP APIs; callers may supply any
// other implementation of the same interfaces.
package drivers

import "context"

// EmbeddingRequest is a provider-agnostic request to generate embeddings.
type EmbeddingRequest struct {
	Texts []string
	Model string // optional override of the driver's configured model
}

// EmbeddingResponse is a provider-agnostic embedding response.
type EmbeddingResponse struct {
	Embeddings [][]float32
	Model      string
	Usage      UsageInfo
}

// UsageInfo carries token accounting returned alongside a driver call.
type UsageInfo struct {
	PromptTokens int
	TotalTokens  int
}

// Embedder generates vector embeddings from text, backing the semantic
// index's rebuild and query paths.
type Embedder interface {
	Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error)
	Dimensions() int
}
