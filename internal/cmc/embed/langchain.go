package embed

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangchainConfig configures a langchaingo-backed Provider. BaseURL also
// accepts a local TEI (Text Embeddings Inference) server, since TEI exposes
// an OpenAI-compatible endpoint (spec §4.2 provider-agnostic embedding).
type LangchainConfig struct {
	BaseURL   string
	Model     string
	APIKey    string
	Dimension int
}

// LangchainProvider adapts langchaingo's OpenAI-compatible embedder to the
// Gateway's Provider contract.
//
// Grounded on pkg/embeddings.Service, generalized from a single-shot
// []string -> [][]float32 helper into the Provider interface the Embedder
// Gateway (C2) batches and retries against.
type LangchainProvider struct {
	embedder  embeddings.Embedder
	modelID   string
	dimension int
}

// NewLangchainProvider constructs a Provider backed by langchaingo's OpenAI
// client, pointed at cfg.BaseURL (OpenAI itself, or any OpenAI-compatible
// TEI deployment).
func NewLangchainProvider(cfg LangchainConfig) (*LangchainProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embed: base URL required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embed: model required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embed: dimension must be positive")
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "placeholder" // TEI ignores it; langchaingo requires a non-empty token
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("embed: create openai client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("embed: create embedder: %w", err)
	}

	return &LangchainProvider{embedder: embedder, modelID: cfg.Model, dimension: cfg.Dimension}, nil
}

// Embed implements Provider. Errors are wrapped Retryable: langchaingo does
// not distinguish transient from fatal failures, and network/rate-limit
// errors dominate this call site in practice.
func (p *LangchainProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, Retryable(fmt.Errorf("embed: embed documents: %w", err))
	}
	return vectors, nil
}

// Dimension implements Provider.
func (p *LangchainProvider) Dimension() int { return p.dimension }

// ModelID implements Provider.
func (p *LangchainProvider) ModelID() string { return p.modelID }
