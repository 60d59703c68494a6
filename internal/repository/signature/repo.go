package signature

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/rfpdesk/docvault/internal/domain"
	domdoc "github.com/rfpdesk/docvault/internal/domain/document"
)

// store is the consumer interface for signatures (ISP).
type store interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSetIfEqual(ctx context.Context, key, field, expected, value string) (bool, error)
}

// Repo keeps one hash per document: "<version>:<signer>" -> signature.
type Repo struct {
	store  store
	prefix string
}

// New creates a signature repository.
func New(s store, prefix string) *Repo {
	return &Repo{store: s, prefix: prefix}
}

type signatureJSON struct {
	Version       int       `json:"version"`
	SignerID      string    `json:"signer_id"`
	Data          []byte    `json:"data"`
	ContentDigest string    `json:"content_digest"`
	Hash          string    `json:"hash"`
	SignedAt      time.Time `json:"signed_at"`
}

// Add stores sig. A second signature by the same signer on the same
// version is a conflict.
func (r *Repo) Add(ctx context.Context, sig domdoc.Signature) error {
	data, err := json.Marshal(signatureJSON{
		Version:       sig.Version,
		SignerID:      sig.SignerID,
		Data:          sig.Data,
		ContentDigest: sig.ContentDigest,
		Hash:          sig.Hash,
		SignedAt:      sig.SignedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal signature: %w", err)
	}
	key := r.key(sig.DocumentID)
	field := strconv.Itoa(sig.Version) + ":" + sig.SignerID
	ok, err := r.store.HSetIfEqual(ctx, key, field, "", string(data))
	if err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("version %d of %s already signed by %s: %w",
			sig.Version, sig.DocumentID, sig.SignerID, domain.ErrConflict)
	}
	return nil
}

// List returns the signatures of a document by version, then signing time.
func (r *Repo) List(ctx context.Context, documentID string) ([]domdoc.Signature, error) {
	key := r.key(documentID)
	m, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	out := make([]domdoc.Signature, 0, len(m))
	for field, raw := range m {
		var dto signatureJSON
		if err := json.Unmarshal([]byte(raw), &dto); err != nil {
			return nil, fmt.Errorf("unmarshal signature %s/%s: %w", documentID, field, err)
		}
		out = append(out, domdoc.Signature{
			DocumentID:    documentID,
			Version:       dto.Version,
			SignerID:      dto.SignerID,
			Data:          dto.Data,
			ContentDigest: dto.ContentDigest,
			Hash:          dto.Hash,
			SignedAt:      dto.SignedAt,
		})
	}
	slices.SortFunc(out, func(a, b domdoc.Signature) int {
		return cmp.Or(
			cmp.Compare(a.Version, b.Version),
			a.SignedAt.Compare(b.SignedAt),
			cmp.Compare(a.SignerID, b.SignerID),
		)
	})
	return out, nil
}

func (r *Repo) key(documentID string) string {
	return r.prefix + "signatures:" + documentID
}
