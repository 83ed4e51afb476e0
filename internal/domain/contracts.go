package domain

import "context"

// EmbeddingResult is the output of an embedding call.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// Embedder vectorizes text into embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// RewrittenQuery is the query rewriter's structured output: a cleaned query
// string plus a filter expression and sort directive in the filter DSL.
// Filter uses the sentinel "NO_FILTER" and Sort "NO_SORT" when unused.
type RewrittenQuery struct {
	Query  string `json:"query"`
	Filter string `json:"filter"`
	Sort   string `json:"sort"`
}

// Rewriter turns a natural-language query into a structured one. It is
// best-effort: a failure never blocks the search pipeline.
type Rewriter interface {
	Rewrite(ctx context.Context, query string) (RewrittenQuery, error)
}

// Reranker rescores (query, passage) pairs for finer-grained relevance.
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []Passage) ([]RerankScore, error)
}

// HealthChecker is implemented by collaborators that can probe their backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
