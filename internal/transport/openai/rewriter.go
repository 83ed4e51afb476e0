package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mailio/mailvec/internal/domain"
	"github.com/mailio/mailvec/internal/metrics"
)

// rewritePrompt instructs the model to split a natural-language query into
// search keywords, a filter expression, and a sort directive. The %s
// placeholder receives today's date so relative references resolve to real
// dates.
const rewritePrompt = `Transform the user's natural-language email query into a JSON object with exactly three fields:
- "query" (string): the search keywords only, no filter logic
- "filter" (string): a logical filter expression, or "NO_FILTER"
- "sort" (string): asc("created"), desc("created"), or "NO_SORT"

Filter rules:
- Comparators: eq, ne, lt, lte, gt, gte. Logical operators: and, or.
- A comparison takes the form comp("attr", "val"); an operation takes the form op(statement1, statement2, ...).
- Allowed attributes: "created" (date the email was created, YYYY-MM-DD) and "from_email" (sender address).
- Format all dates as YYYY-MM-DD. Convert relative references ("today", "last month") using today's date.
- Use "NO_FILTER" when no condition applies. Never invent attributes or operators.

Sort rules:
- Sort only on "created". Use desc("created") for "latest", "recent", "newest"; asc("created") for "oldest", "earliest". Otherwise "NO_SORT".
- When in doubt, prefer correct sorting with "NO_FILTER" over guessing date ranges.

Today's date: %s

Examples:
User: "Latest email from test@example.com"
{"query": "email", "filter": "eq(\"from_email\", \"test@example.com\")", "sort": "desc(\"created\")"}

User: "How much did I pay for electricity last month?"
{"query": "electricity", "filter": "and(gte(\"created\", \"2025-07-01\"), lte(\"created\", \"2025-07-31\"))", "sort": "NO_SORT"}

User: "how much was my latest bill for digitalocean"
{"query": "digitalocean bill", "filter": "NO_FILTER", "sort": "desc(\"created\")"}

Return only the JSON object.`

// Rewriter turns free-text queries into structured ones via chat completion.
type Rewriter struct {
	client *openai.Client
	model  string
	logger *zap.Logger
	now    func() time.Time
}

// LLMConfig holds shared chat-completion provider settings.
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  *zap.Logger
}

// NewRewriter creates a chat-completion backed query rewriter.
func NewRewriter(cfg *LLMConfig) *Rewriter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Rewriter{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: cfg.Logger,
		now:    time.Now,
	}
}

// Rewrite implements domain.Rewriter.
func (r *Rewriter) Rewrite(ctx context.Context, query string) (domain.RewrittenQuery, error) {
	system := fmt.Sprintf(rewritePrompt, r.now().UTC().Format("2006-01-02"))

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("rewrite", "error").Inc()
		return domain.RewrittenQuery{}, fmt.Errorf("%w: %v", domain.ErrRewriteFailed, err)
	}
	if len(resp.Choices) == 0 {
		metrics.LLMRequestsTotal.WithLabelValues("rewrite", "error").Inc()
		return domain.RewrittenQuery{}, fmt.Errorf("%w: empty completion", domain.ErrRewriteFailed)
	}

	var out domain.RewrittenQuery
	content := stripCodeFence(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("rewrite", "error").Inc()
		return domain.RewrittenQuery{}, fmt.Errorf("%w: decode completion: %v", domain.ErrRewriteFailed, err)
	}
	if out.Query == "" {
		out.Query = query
	}

	metrics.LLMRequestsTotal.WithLabelValues("rewrite", "success").Inc()
	return out, nil
}

// stripCodeFence removes a surrounding markdown code fence, which some models
// emit despite the JSON response format.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
