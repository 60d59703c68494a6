package audit

import (
	"context"
	"encoding/json"
	"fmt"

	domaudit "github.com/rfpdesk/docvault/internal/domain/audit"
)

// DefaultRetention caps the number of entries kept per document.
const DefaultRetention = 1000

// store is the consumer interface for the access log (ISP).
type store interface {
	RPush(ctx context.Context, key string, values ...[]byte) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
}

// Repo appends access-log entries to a capped list per document.
type Repo struct {
	store     store
	prefix    string
	retention int64
}

// New creates an audit repository.
func New(s store, prefix string) *Repo {
	return &Repo{store: s, prefix: prefix, retention: DefaultRetention}
}

// WithRetention overrides the per-document entry cap.
func (r *Repo) WithRetention(n int) *Repo {
	if n > 0 {
		r.retention = int64(n)
	}
	return r
}

// Append records one entry, trimming the oldest ones past the cap.
func (r *Repo) Append(ctx context.Context, e domaudit.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	key := r.key(e.DocumentID)
	n, err := r.store.RPush(ctx, key, data)
	if err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	if n > r.retention {
		if err := r.store.LTrim(ctx, key, -r.retention, -1); err != nil {
			return fmt.Errorf("ltrim %s: %w", key, err)
		}
	}
	return nil
}

// Recent returns up to limit newest entries, oldest first.
func (r *Repo) Recent(ctx context.Context, documentID string, limit int) ([]domaudit.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	key := r.key(documentID)
	raw, err := r.store.LRange(ctx, key, -int64(limit), -1)
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	out := make([]domaudit.Entry, 0, len(raw))
	for _, b := range raw {
		var e domaudit.Entry
		if err := json.Unmarshal(b, &e); err != nil {
			return nil, fmt.Errorf("unmarshal audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Repo) key(documentID string) string {
	return r.prefix + "audit:" + documentID
}
