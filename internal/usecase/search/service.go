// Package search implements the query pipeline: rewrite, filter composition,
// breadth selection, vector retrieval, reconciliation against the document
// store, knee-point detection, and conditional reranking.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mailio/mailvec/internal/domain"
	"github.com/mailio/mailvec/internal/domain/query"
	"github.com/mailio/mailvec/internal/logger"
	"github.com/mailio/mailvec/internal/metrics"
	"github.com/mailio/mailvec/internal/repository/vector"
)

const (
	rerankMinMatches = 3
	snippetMaxLen    = 280
)

// Config holds retrieval breadth and window settings.
type Config struct {
	RecencyWindow   time.Duration // desc sort: forced lower bound on created
	AscExclusion    time.Duration // asc sort: same-day documents excluded
	DescBreadth     int
	AscBreadth      int
	OverfetchFactor int
	EmbedTimeout    time.Duration
	LLMTimeout      time.Duration
}

// Request is one search invocation.
type Request struct {
	Address string
	Query   string
	TopK    int
	Folder  string
	// Filter and Sort, when set, are caller-supplied DSL text that takes
	// precedence over the rewriter's output.
	Filter string
	Sort   string
}

// Result carries the ranked matches plus the advisory relevance cutoff.
type Result struct {
	Matches []domain.SearchMatch
	Knee    int
}

// Service orchestrates a search request end to end.
type Service struct {
	index    VectorIndex
	docs     Documents
	embed    Embedder
	rewriter domain.Rewriter
	reranker domain.Reranker
	composer *query.Composer
	cleaner  Cleaner
	cfg      Config
	now      func() time.Time
}

// New creates a search service. The rewriter and reranker are optional; a nil
// value disables the corresponding pipeline stage.
func New(
	index VectorIndex, docs Documents, embed Embedder,
	rewriter domain.Rewriter, reranker domain.Reranker,
	composer *query.Composer, cleaner Cleaner, cfg Config,
) *Service {
	if cfg.RecencyWindow <= 0 {
		cfg.RecencyWindow = 90 * 24 * time.Hour
	}
	if cfg.AscExclusion <= 0 {
		cfg.AscExclusion = 24 * time.Hour
	}
	if cfg.DescBreadth <= 0 {
		cfg.DescBreadth = 300
	}
	if cfg.AscBreadth <= 0 {
		cfg.AscBreadth = 1000
	}
	if cfg.OverfetchFactor <= 0 {
		cfg.OverfetchFactor = 5
	}
	return &Service{
		index:    index,
		docs:     docs,
		embed:    embed,
		rewriter: rewriter,
		reranker: reranker,
		composer: composer,
		cleaner:  cleaner,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Search runs the full pipeline for one request.
func (s *Service) Search(ctx context.Context, req Request) (Result, error) {
	log := logger.FromContext(ctx)
	if req.TopK <= 0 {
		req.TopK = 10
	}

	queryText, filterText, sortText := s.rewrite(ctx, req)
	params := s.composer.Compose(filterText, sortText)

	breadth := s.applyBreadthPolicy(&params, req.TopK)

	embedCtx, cancel := s.withTimeout(ctx, s.cfg.EmbedTimeout)
	defer cancel()
	emb, err := s.embed.Embed(embedCtx, queryText)
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("vectorize query: %w", err)
	}

	vecMatches, err := s.index.Query(ctx, req.Address, emb.Embedding, vector.Filter{
		TimestampAfter:  params.TimestampAfter,
		TimestampBefore: params.TimestampBefore,
		FromEmail:       params.FromEmail,
		Folder:          req.Folder,
	}, breadth)
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("vector query: %w", err)
	}
	if len(vecMatches) == 0 {
		metrics.SearchesTotal.WithLabelValues("success").Inc()
		return Result{Matches: []domain.SearchMatch{}}, nil
	}

	scores := make([]float64, len(vecMatches))
	for i, m := range vecMatches {
		scores[i] = m.Score
	}
	knee := KneePoint(scores)

	matches, found, err := s.reconcile(ctx, req.Address, vecMatches)
	if err != nil {
		if errors.Is(err, domain.ErrAddressNotFound) {
			metrics.SearchesTotal.WithLabelValues("success").Inc()
			return Result{Matches: []domain.SearchMatch{}}, nil
		}
		metrics.SearchesTotal.WithLabelValues("error").Inc()
		return Result{}, err
	}

	if len(matches) > req.TopK {
		matches = matches[:req.TopK]
	}

	matches = s.maybeRerank(ctx, req.Query, matches, found, log)

	metrics.SearchesTotal.WithLabelValues("success").Inc()
	return Result{Matches: matches, Knee: knee}, nil
}

// rewrite runs the optional query rewriter. It is best-effort: on any failure
// the raw query proceeds with no filter and no sort. Caller-supplied filter
// text always wins over the rewriter's.
func (s *Service) rewrite(ctx context.Context, req Request) (queryText, filterText, sortText string) {
	queryText = req.Query
	filterText = query.NoFilter
	sortText = query.NoSort

	if req.Filter != "" || req.Sort != "" {
		if req.Filter != "" {
			filterText = req.Filter
		}
		if req.Sort != "" {
			sortText = req.Sort
		}
		return queryText, filterText, sortText
	}
	if s.rewriter == nil {
		return queryText, filterText, sortText
	}

	llmCtx, cancel := s.withTimeout(ctx, s.cfg.LLMTimeout)
	defer cancel()
	rewritten, err := s.rewriter.Rewrite(llmCtx, req.Query)
	if err != nil {
		logger.FromContext(ctx).Warn("query rewrite failed, using raw query", zap.Error(err))
		return queryText, filterText, sortText
	}

	if rewritten.Query != "" {
		queryText = rewritten.Query
	}
	if rewritten.Filter != "" {
		filterText = rewritten.Filter
	}
	if rewritten.Sort != "" {
		sortText = rewritten.Sort
	}
	return queryText, filterText, sortText
}

// applyBreadthPolicy picks the retrieval limit from the sort directive and
// forces the corresponding time window when the filter is not already
// narrower.
func (s *Service) applyBreadthPolicy(params *query.QueryParams, topK int) int {
	switch params.Sort {
	case query.SortDesc:
		cutoff := s.now().Add(-s.cfg.RecencyWindow).UnixMilli()
		if params.TimestampAfter == nil || *params.TimestampAfter < cutoff {
			params.TimestampAfter = &cutoff
		}
		return s.cfg.DescBreadth
	case query.SortAsc:
		cutoff := s.now().Add(-s.cfg.AscExclusion).UnixMilli()
		if params.TimestampBefore == nil || *params.TimestampBefore > cutoff {
			params.TimestampBefore = &cutoff
		}
		return s.cfg.AscBreadth
	default:
		return topK * s.cfg.OverfetchFactor
	}
}

// reconcile bulk-fetches matched ids from the document store, schedules
// fire-and-forget vector deletions for ids the store no longer has, and
// merges authoritative document fields over the index's metadata copy.
func (s *Service) reconcile(
	ctx context.Context, address string, vecMatches []domain.VectorMatch,
) ([]domain.SearchMatch, map[string]*domain.Email, error) {
	// The upstream id encoding replaces spaces with '+'. Documents are keyed
	// by the decoded form.
	ids := make([]string, len(vecMatches))
	decodedToRaw := make(map[string]string, len(vecMatches))
	for i, m := range vecMatches {
		decoded := strings.ReplaceAll(m.ID, "+", " ")
		ids[i] = decoded
		decodedToRaw[decoded] = m.ID
	}

	docs, missing, err := s.docs.BulkGet(ctx, address, ids)
	if err != nil {
		if errors.Is(err, domain.ErrAddressNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("bulk get documents: %w", err)
	}

	if len(missing) > 0 {
		s.scheduleCleanup(ctx, address, missing, decodedToRaw)
	}

	missingSet := make(map[string]struct{}, len(missing))
	for _, id := range missing {
		missingSet[id] = struct{}{}
	}

	matches := make([]domain.SearchMatch, 0, len(vecMatches))
	for i, vm := range vecMatches {
		decoded := ids[i]
		if _, gone := missingSet[decoded]; gone {
			continue
		}
		matches = append(matches, mergeMatch(decoded, vm, docs[decoded]))
	}
	return matches, docs, nil
}

// scheduleCleanup issues one detached deletion request per missing id. The
// ids are deduplicated within the request; the response path never waits.
func (s *Service) scheduleCleanup(
	ctx context.Context, address string, missing []string, decodedToRaw map[string]string,
) {
	log := logger.FromContext(ctx)

	seen := make(map[string]struct{}, len(missing))
	rawIDs := make([]string, 0, len(missing))
	for _, id := range missing {
		raw, ok := decodedToRaw[id]
		if !ok {
			raw = id
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		rawIDs = append(rawIDs, raw)
	}

	metrics.ReconcileDeletionsTotal.Add(float64(len(rawIDs)))

	err := s.cleaner.Submit(func() {
		cleanCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.index.Delete(cleanCtx, address, rawIDs); err != nil {
			log.Warn("vector cleanup failed",
				zap.String("address", address),
				zap.Int("ids", len(rawIDs)),
				zap.Error(err))
		}
	})
	if err != nil {
		log.Warn("vector cleanup not scheduled", zap.Error(err))
	}
}

// mergeMatch builds a SearchMatch, preferring the document store's fields
// over the vector index's metadata copy.
func mergeMatch(id string, vm domain.VectorMatch, doc *domain.Email) domain.SearchMatch {
	m := domain.SearchMatch{
		MessageID: id,
		Score:     vm.Score,
		Subject:   vm.Metadata["subject"],
		Folder:    vm.Metadata["folder"],
		FromEmail: vm.Metadata["from_email"],
		FromName:  vm.Metadata["from_name"],
		Metadata:  vm.Metadata,
	}
	if created, err := strconv.ParseInt(vm.Metadata["created"], 10, 64); err == nil {
		m.Created = created
	}

	if doc != nil {
		m.Created = doc.Created
		if doc.Subject != "" {
			m.Subject = doc.Subject
		}
		if doc.Folder != "" {
			m.Folder = doc.Folder
		}
		if doc.SenderEmail != "" {
			m.FromEmail = doc.SenderEmail
		}
		if doc.SenderName != "" {
			m.FromName = doc.SenderName
		}
	}
	return m
}

// maybeRerank rescores the truncated match list when it is large enough to
// benefit. Rerank failures degrade to the similarity ordering.
func (s *Service) maybeRerank(
	ctx context.Context, originalQuery string,
	matches []domain.SearchMatch, docs map[string]*domain.Email, log *zap.Logger,
) []domain.SearchMatch {
	if s.reranker == nil || len(matches) <= rerankMinMatches {
		metrics.RerankTotal.WithLabelValues("skipped").Inc()
		return matches
	}

	passages := make([]domain.Passage, 0, len(matches))
	for _, m := range matches {
		text := passageText(m, docs[m.MessageID])
		if text == "" {
			continue
		}
		passages = append(passages, domain.Passage{ID: m.MessageID, Text: text})
	}
	if len(passages) == 0 {
		metrics.RerankTotal.WithLabelValues("skipped").Inc()
		return matches
	}

	llmCtx, cancel := s.withTimeout(ctx, s.cfg.LLMTimeout)
	defer cancel()
	scores, err := s.reranker.Rerank(llmCtx, originalQuery, passages)
	if err != nil {
		metrics.RerankTotal.WithLabelValues("error").Inc()
		log.Warn("rerank failed, keeping similarity order", zap.Error(err))
		return matches
	}

	byID := make(map[string]float64, len(scores))
	for _, sc := range scores {
		byID[sc.ID] = sc.Score
	}
	passageByID := make(map[string]string, len(passages))
	for _, p := range passages {
		passageByID[p.ID] = p.Text
	}

	for i := range matches {
		if score, ok := byID[matches[i].MessageID]; ok {
			matches[i].Score = score
		}
		matches[i].Snippet = clipSnippet(passageByID[matches[i].MessageID])
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	metrics.RerankTotal.WithLabelValues("ok").Inc()
	return matches
}

// passageText assembles the rerank input for a match from the source
// document's subject and leading sentences, falling back to index metadata.
func passageText(m domain.SearchMatch, doc *domain.Email) string {
	if doc != nil {
		return doc.EmbeddableText()
	}
	return m.Subject
}

func clipSnippet(text string) string {
	if len(text) <= snippetMaxLen {
		return text
	}
	clipped := text[:snippetMaxLen]
	// Avoid splitting a multi-byte rune at the cut.
	for len(clipped) > 0 && clipped[len(clipped)-1]&0xC0 == 0x80 {
		clipped = clipped[:len(clipped)-1]
	}
	return clipped
}

func (s *Service) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
