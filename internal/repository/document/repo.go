// Package document stores source email documents as JSON values keyed by
// address and message id. An address marker key distinguishes "address never
// registered" from "address has no matching documents".
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mailio/mailvec/internal/db"
	"github.com/mailio/mailvec/internal/domain"
)

// store is the consumer interface for document operations.
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	GetMulti(ctx context.Context, keys []string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Exists(ctx context.Context, key string) (bool, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo implements the document store over plain key-value records.
type Repo struct {
	store  store
	prefix string
}

// New creates a document repository.
func New(s store, keyPrefix string) *Repo {
	return &Repo{store: s, prefix: keyPrefix}
}

func (r *Repo) docKey(address, messageID string) string {
	return fmt.Sprintf("%sdoc:%s:%s", r.prefix, address, messageID)
}

func (r *Repo) addressKey(address string) string {
	return r.prefix + "addr:" + address
}

// Put stores a document and registers the owning address.
func (r *Repo) Put(ctx context.Context, address string, email *domain.Email) error {
	data, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", email.MessageID, err)
	}
	if err := r.store.Set(ctx, r.docKey(address, email.MessageID), data); err != nil {
		return fmt.Errorf("put document %s: %w", email.MessageID, err)
	}
	if err := r.store.Set(ctx, r.addressKey(address), []byte("1")); err != nil {
		return fmt.Errorf("register address: %w", err)
	}
	return nil
}

// Get returns a single document, or domain.ErrDocumentNotFound.
func (r *Repo) Get(ctx context.Context, address, messageID string) (*domain.Email, error) {
	data, err := r.store.Get(ctx, r.docKey(address, messageID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("get document %s: %w", messageID, err)
	}

	var email domain.Email
	if err := json.Unmarshal(data, &email); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", messageID, err)
	}
	return &email, nil
}

// BulkGet fetches documents for the given ids in one round-trip. Ids that are
// absent or marked deleted are reported in missing. An address that was never
// registered yields domain.ErrAddressNotFound.
func (r *Repo) BulkGet(
	ctx context.Context, address string, ids []string,
) (map[string]*domain.Email, []string, error) {
	known, err := r.store.Exists(ctx, r.addressKey(address))
	if err != nil {
		return nil, nil, fmt.Errorf("probe address: %w", err)
	}
	if !known {
		return nil, nil, domain.ErrAddressNotFound
	}
	if len(ids) == 0 {
		return map[string]*domain.Email{}, nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.docKey(address, id)
	}
	values, err := r.store.GetMulti(ctx, keys)
	if err != nil {
		return nil, nil, fmt.Errorf("bulk get: %w", err)
	}

	docs := make(map[string]*domain.Email, len(ids))
	var missing []string
	for i, data := range values {
		if data == nil {
			missing = append(missing, ids[i])
			continue
		}
		var email domain.Email
		if err := json.Unmarshal(data, &email); err != nil {
			return nil, nil, fmt.Errorf("decode document %s: %w", ids[i], err)
		}
		if email.Deleted {
			missing = append(missing, ids[i])
			continue
		}
		docs[ids[i]] = &email
	}
	return docs, missing, nil
}

// MarkIndexed sets the indexed flag on a stored document.
func (r *Repo) MarkIndexed(ctx context.Context, address, messageID string) error {
	email, err := r.Get(ctx, address, messageID)
	if err != nil {
		return err
	}
	email.Indexed = true

	data, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", messageID, err)
	}
	if err := r.store.Set(ctx, r.docKey(address, messageID), data); err != nil {
		return fmt.Errorf("mark indexed %s: %w", messageID, err)
	}
	return nil
}

// ListAddresses returns every registered address.
func (r *Repo) ListAddresses(ctx context.Context) ([]string, error) {
	keys, err := r.store.Scan(ctx, r.addressKey("*"))
	if err != nil {
		return nil, fmt.Errorf("scan addresses: %w", err)
	}
	addresses := make([]string, 0, len(keys))
	for _, key := range keys {
		addresses = append(addresses, strings.TrimPrefix(key, r.addressKey("")))
	}
	return addresses, nil
}

// ListUnindexed returns message ids of live documents for an address that are
// not yet indexed and were created at or after the cutoff.
func (r *Repo) ListUnindexed(ctx context.Context, address string, createdAfterMillis int64) ([]string, error) {
	pattern := r.docKey(address, "*")
	keys, err := r.store.Scan(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("scan documents: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := r.store.GetMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("bulk get: %w", err)
	}

	var ids []string
	for _, data := range values {
		if data == nil {
			continue
		}
		var email domain.Email
		if err := json.Unmarshal(data, &email); err != nil {
			continue
		}
		if email.Indexed || email.Deleted || email.Created < createdAfterMillis {
			continue
		}
		ids = append(ids, email.MessageID)
	}
	return ids, nil
}
