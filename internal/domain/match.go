package domain

// SearchMatch is a single query hit. Created per search, never persisted.
// Score is a similarity (higher is better); after reranking it holds the
// reranker's score instead of the vector similarity.
type SearchMatch struct {
	MessageID string            `json:"message_id"`
	Score     float64           `json:"score"`
	Created   int64             `json:"created,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	Folder    string            `json:"folder,omitempty"`
	FromEmail string            `json:"from_email,omitempty"`
	FromName  string            `json:"from_name,omitempty"`
	Snippet   string            `json:"snippet,omitempty"`
	Metadata  map[string]string `json:"-"`
}

// VectorMatch is a raw vector index hit, ordered by descending similarity.
type VectorMatch struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// Passage is a rerank input: a match id with its textual content.
type Passage struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// RerankScore is a rerank output score for one passage.
type RerankScore struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}
