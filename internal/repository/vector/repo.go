// Package vector adapts the Redis FT.SEARCH substrate into the vector index
// collaborator: per-address namespaces over one HNSW index, with metadata
// pre-filtering on created time, folder, and sender.
package vector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mailio/mailvec/internal/db"
	"github.com/mailio/mailvec/internal/domain"
)

// store is the consumer interface for vector index operations.
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	Del(ctx context.Context, key string) error
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
}

// Entry is a single vector index record.
type Entry struct {
	ID       string
	Vector   []float32
	Created  int64 // epoch milliseconds
	Metadata map[string]string
}

// Filter narrows a query. Nil bounds and empty strings mean unconstrained.
type Filter struct {
	TimestampAfter  *int64
	TimestampBefore *int64
	FromEmail       string
	Folder          string
}

// HNSWConfig tunes index construction.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Repo implements the vector index over a single FT index with an address
// namespace tag.
type Repo struct {
	store  store
	prefix string
	dim    int
	hnsw   HNSWConfig
}

// New creates a vector index repository.
func New(s store, keyPrefix string, dimensions int) *Repo {
	return &Repo{store: s, prefix: keyPrefix, dim: dimensions}
}

// WithHNSW overrides HNSW construction parameters.
func (r *Repo) WithHNSW(cfg HNSWConfig) *Repo {
	r.hnsw = cfg
	return r
}

func (r *Repo) indexName() string {
	return r.prefix + "emb-idx"
}

func (r *Repo) entryKey(address, id string) string {
	return fmt.Sprintf("%semb:%s:%s", r.prefix, address, id)
}

// EnsureIndex creates the FT index if it does not exist yet.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.indexName())
	if err != nil {
		return fmt.Errorf("probe index: %w", err)
	}
	if exists {
		return nil
	}

	def := &db.IndexDefinition{
		Name:     r.indexName(),
		Prefixes: []string{r.prefix + "emb:"},
		Fields: []db.IndexField{
			{
				Name:              "__vector",
				Alias:             "vector",
				Type:              db.IndexFieldVector,
				VectorAlgo:        db.VectorHNSW,
				VectorDim:         r.dim,
				VectorDistance:    db.DistanceCosine,
				VectorM:           r.hnsw.M,
				VectorEFConstruct: r.hnsw.EFConstruct,
			},
			{Name: "namespace", Type: db.IndexFieldTag},
			{Name: "folder", Type: db.IndexFieldTag},
			{Name: "from_email", Type: db.IndexFieldTag},
			{Name: "created", Type: db.IndexFieldNumeric},
		},
	}

	if err := r.store.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// Upsert writes an entry under the address namespace. Same id overwrites.
func (r *Repo) Upsert(ctx context.Context, address string, entry Entry) error {
	if len(entry.Vector) != r.dim {
		return fmt.Errorf("%w: got %d, want %d", domain.ErrVectorDimMismatch, len(entry.Vector), r.dim)
	}

	fields := make(map[string]string, 3+len(entry.Metadata))
	fields["__vector"] = vectorToBytes(entry.Vector)
	fields["namespace"] = address
	fields["created"] = strconv.FormatInt(entry.Created, 10)
	for k, v := range entry.Metadata {
		if v == "" {
			continue
		}
		fields[k] = v
	}

	if err := r.store.HSet(ctx, r.entryKey(address, entry.ID), fields); err != nil {
		return fmt.Errorf("upsert %s: %w", entry.ID, err)
	}
	return nil
}

// Query runs a KNN search within an address namespace, ordered by descending
// similarity.
func (r *Repo) Query(
	ctx context.Context, address string, vector []float32, filter Filter, limit int,
) ([]domain.VectorMatch, error) {
	q := &db.KNNQuery{
		IndexName: r.indexName(),
		Filter:    buildFilter(address, filter),
		Vector:    vector,
		K:         limit,
		ReturnFields: []string{
			"__vector_score", "subject", "folder", "from_email", "from_name", "created",
		},
	}

	sr, err := r.store.SearchKNN(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("knn query: %w", err)
	}
	if sr == nil || sr.Total == 0 {
		return nil, nil
	}

	keyPrefix := fmt.Sprintf("%semb:%s:", r.prefix, address)
	matches := make([]domain.VectorMatch, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		id := strings.TrimPrefix(entry.Key, keyPrefix)
		metadata := make(map[string]string, len(entry.Fields))
		for k, v := range entry.Fields {
			if k == "__vector_score" || k == "__vector" || k == "namespace" {
				continue
			}
			metadata[k] = v
		}
		matches = append(matches, domain.VectorMatch{
			ID:       id,
			Score:    entry.Score,
			Metadata: metadata,
		})
	}
	return matches, nil
}

// Delete removes entries from the address namespace.
func (r *Repo) Delete(ctx context.Context, address string, ids []string) error {
	for _, id := range ids {
		if err := r.store.Del(ctx, r.entryKey(address, id)); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	return nil
}

// buildFilter assembles the FT.SEARCH pre-filter string for a namespace query.
func buildFilter(address string, f Filter) string {
	parts := []string{buildTagFilter("namespace", address)}

	if f.TimestampAfter != nil || f.TimestampBefore != nil {
		minBound := "-inf"
		maxBound := "+inf"
		if f.TimestampAfter != nil {
			minBound = strconv.FormatInt(*f.TimestampAfter, 10)
		}
		if f.TimestampBefore != nil {
			maxBound = strconv.FormatInt(*f.TimestampBefore, 10)
		}
		parts = append(parts, fmt.Sprintf("@created:[%s %s]", minBound, maxBound))
	}

	if f.FromEmail != "" {
		parts = append(parts, buildTagFilter("from_email", f.FromEmail))
	}
	if f.Folder != "" {
		parts = append(parts, buildTagFilter("folder", f.Folder))
	}

	return strings.Join(parts, " ")
}

func buildTagFilter(key, value string) string {
	return fmt.Sprintf("@%s:{%s}", key, tagEscaper.Replace(value))
}

var tagEscaper = strings.NewReplacer(
	",", "\\,",
	".", "\\.",
	"<", "\\<",
	">", "\\>",
	"{", "\\{",
	"}", "\\}",
	"\"", "\\\"",
	"'", "\\'",
	":", "\\:",
	";", "\\;",
	"!", "\\!",
	"@", "\\@",
	"#", "\\#",
	"$", "\\$",
	"%", "\\%",
	"^", "\\^",
	"&", "\\&",
	"*", "\\*",
	"(", "\\(",
	")", "\\)",
	"-", "\\-",
	"+", "\\+",
	"=", "\\=",
	"~", "\\~",
	"|", "\\|",
	"/", "\\/",
	" ", "\\ ",
)
