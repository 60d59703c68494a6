package grant

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rfpdesk/docvault/internal/domain"
	"github.com/rfpdesk/docvault/internal/domain/access"
)

// store is the consumer interface for grants (ISP).
type store interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSetIfEqual(ctx context.Context, key, field, expected, value string) (bool, error)
}

// Repo keeps one hash per document: grantee key -> latest grant record.
// Revocations are stored as None-level records so the last writer stays
// observable.
type Repo struct {
	store  store
	prefix string
}

// New creates a grant repository.
func New(s store, prefix string) *Repo {
	return &Repo{store: s, prefix: prefix}
}

type grantJSON struct {
	Kind      string    `json:"kind"`
	ID        string    `json:"id"`
	Level     string    `json:"level"`
	GrantedBy string    `json:"granted_by"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// putAttempts bounds the compare-and-set retries of one Put.
const putAttempts = 8

// Put stores g unless an existing record for the same grantee supersedes
// it. It returns the record in force afterwards. The record is replaced by a
// compare-and-set on the grantee field, so concurrent writers on other
// instances cannot lose a newer grant.
func (r *Repo) Put(ctx context.Context, g access.Grant) (access.Grant, error) {
	data, err := json.Marshal(grantJSON{
		Kind:      string(g.Grantee.Kind),
		ID:        g.Grantee.ID,
		Level:     g.Level.String(),
		GrantedBy: g.GrantedBy,
		GrantedAt: g.GrantedAt.UTC(),
		ExpiresAt: g.ExpiresAt.UTC(),
	})
	if err != nil {
		return access.Grant{}, fmt.Errorf("marshal grant: %w", err)
	}

	key := r.key(g.DocumentID)
	field := g.Grantee.Key()
	for range putAttempts {
		m, err := r.store.HGetAll(ctx, key)
		if err != nil {
			return access.Grant{}, fmt.Errorf("hgetall %s: %w", key, err)
		}
		raw := m[field]
		if raw != "" {
			current, err := decode(g.DocumentID, field, raw)
			if err != nil {
				return access.Grant{}, err
			}
			if !g.Supersedes(current) {
				return current, nil
			}
		}
		ok, err := r.store.HSetIfEqual(ctx, key, field, raw, string(data))
		if err != nil {
			return access.Grant{}, fmt.Errorf("hset %s: %w", key, err)
		}
		if ok {
			return g, nil
		}
	}
	return access.Grant{}, fmt.Errorf("grant %s/%s kept changing: %w", g.DocumentID, field, domain.ErrConflict)
}

// List returns every grant record of a document, including revocations and
// expired grants.
func (r *Repo) List(ctx context.Context, documentID string) ([]access.Grant, error) {
	key := r.key(documentID)
	m, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	out := make([]access.Grant, 0, len(m))
	for field, raw := range m {
		g, err := decode(documentID, field, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func decode(documentID, field, raw string) (access.Grant, error) {
	var dto grantJSON
	if err := json.Unmarshal([]byte(raw), &dto); err != nil {
		return access.Grant{}, fmt.Errorf("unmarshal grant %s/%s: %w", documentID, field, err)
	}
	level, err := access.ParseLevel(dto.Level)
	if err != nil {
		return access.Grant{}, fmt.Errorf("grant %s/%s: %w", documentID, field, err)
	}
	return access.Grant{
		DocumentID: documentID,
		Grantee:    access.Grantee{Kind: access.GranteeKind(dto.Kind), ID: dto.ID},
		Level:      level,
		GrantedBy:  dto.GrantedBy,
		GrantedAt:  dto.GrantedAt,
		ExpiresAt:  dto.ExpiresAt,
	}, nil
}

func (r *Repo) key(documentID string) string {
	return r.prefix + "grants:" + documentID
}
