package openai

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/mailio/mailvec/internal/domain"
)

func TestReranker_Rerank(t *testing.T) {
	var requestBody []byte
	server := chatCompletionStub(t,
		`{"results": [{"id": "msg-1", "score": 0.9}, {"id": "msg-2", "score": 0.2}]}`,
		func(body []byte) { requestBody = body },
	)
	defer server.Close()

	rr := NewReranker(&LLMConfig{
		APIKey: "test-key", BaseURL: server.URL, Model: "test-model", Logger: zap.NewNop(),
	})

	scores, err := rr.Rerank(context.Background(), "lunch plans", []domain.Passage{
		{ID: "msg-1", Text: "lunch plans. Are you free on Friday?"},
		{ID: "msg-2", Text: "invoice attached."},
	})
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("expected 2 scores, got %d", len(scores))
	}
	if scores[0].ID != "msg-1" || scores[0].Score != 0.9 {
		t.Errorf("unexpected first score: %+v", scores[0])
	}

	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(requestBody, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(req.Messages))
	}
	var payload rerankRequest
	if err := json.Unmarshal([]byte(req.Messages[1].Content), &payload); err != nil {
		t.Fatalf("user message is not a rerank payload: %v", err)
	}
	if payload.Query != "lunch plans" || len(payload.Passages) != 2 {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestReranker_EmptyPassages(t *testing.T) {
	rr := NewReranker(&LLMConfig{
		APIKey: "test-key", BaseURL: "http://unused", Model: "test-model", Logger: zap.NewNop(),
	})

	scores, err := rr.Rerank(context.Background(), "anything", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scores != nil {
		t.Errorf("expected nil scores, got %v", scores)
	}
}

func TestReranker_MalformedCompletion(t *testing.T) {
	server := chatCompletionStub(t, "oops", nil)
	defer server.Close()

	rr := NewReranker(&LLMConfig{
		APIKey: "test-key", BaseURL: server.URL, Model: "test-model", Logger: zap.NewNop(),
	})

	_, err := rr.Rerank(context.Background(), "q", []domain.Passage{{ID: "msg-1", Text: "text"}})
	if !errors.Is(err, domain.ErrRerankFailed) {
		t.Fatalf("expected ErrRerankFailed, got %v", err)
	}
}
