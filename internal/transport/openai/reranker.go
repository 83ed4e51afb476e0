package openai

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mailio/mailvec/internal/domain"
	"github.com/mailio/mailvec/internal/metrics"
)

const rerankPrompt = `You score email passages for relevance to a search query.
The user message is a JSON object: {"query": string, "passages": [{"id": string, "text": string}, ...]}.
For every passage, assign a relevance score between 0.0 (irrelevant) and 1.0 (directly answers the query).
Return only a JSON object: {"results": [{"id": string, "score": number}, ...]} covering every passage id exactly once.`

// Reranker rescores candidate passages against a query via chat completion.
type Reranker struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewReranker creates a chat-completion backed reranker.
func NewReranker(cfg *LLMConfig) *Reranker {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Reranker{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

type rerankRequest struct {
	Query    string           `json:"query"`
	Passages []domain.Passage `json:"passages"`
}

type rerankResponse struct {
	Results []domain.RerankScore `json:"results"`
}

// Rerank implements domain.Reranker.
func (r *Reranker) Rerank(
	ctx context.Context, query string, passages []domain.Passage,
) ([]domain.RerankScore, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(rerankRequest{Query: query, Passages: passages})
	if err != nil {
		return nil, fmt.Errorf("%w: encode passages: %v", domain.ErrRerankFailed, err)
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: rerankPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(payload)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("rerank", "error").Inc()
		return nil, fmt.Errorf("%w: %v", domain.ErrRerankFailed, err)
	}
	if len(resp.Choices) == 0 {
		metrics.LLMRequestsTotal.WithLabelValues("rerank", "error").Inc()
		return nil, fmt.Errorf("%w: empty completion", domain.ErrRerankFailed)
	}

	var out rerankResponse
	content := stripCodeFence(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("rerank", "error").Inc()
		return nil, fmt.Errorf("%w: decode completion: %v", domain.ErrRerankFailed, err)
	}

	metrics.LLMRequestsTotal.WithLabelValues("rerank", "success").Inc()
	return out.Results, nil
}
