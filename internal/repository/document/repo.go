package document

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rfpdesk/docvault/internal/db"
	"github.com/rfpdesk/docvault/internal/domain"
	domdoc "github.com/rfpdesk/docvault/internal/domain/document"
)

// store is the consumer interface for the document ledger (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	MGet(ctx context.Context, keys []string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetNX(ctx context.Context, key string, value []byte) error
	IncrBy(ctx context.Context, key string, val int64) (int64, error)
}

// Repo persists documents as hashes and versions as write-once strings.
// A version key is written with SET NX before the head moves, so two
// writers racing for the same number cannot both succeed. The committed
// head lives in a per-document counter advanced with INCRBY after the
// version write; the hash keeps a copy for reading.
type Repo struct {
	store  store
	prefix string
}

// New creates a document repository.
func New(s store, prefix string) *Repo {
	return &Repo{store: s, prefix: prefix}
}

// Create stores a new document together with its first version.
func (r *Repo) Create(ctx context.Context, doc *domdoc.Document, first *domdoc.Version) (domdoc.Document, error) {
	key := r.docKey(doc.ID())
	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("check exists %s: %w", key, err)
	}
	if exists {
		return domdoc.Document{}, fmt.Errorf("document %s: %w", doc.ID(), domain.ErrConflict)
	}

	if err := r.putVersion(ctx, first); err != nil {
		return domdoc.Document{}, err
	}
	headKey := r.headKey(doc.ID())
	if err := r.store.Set(ctx, headKey, []byte(strconv.Itoa(first.Number()))); err != nil {
		r.discard(ctx, r.versionKey(doc.ID(), first.Number()))
		return domdoc.Document{}, fmt.Errorf("set %s: %w", headKey, err)
	}
	created := doc.Advance(first)
	if err := r.store.HSet(ctx, key, buildHashFields(&created)); err != nil {
		r.discard(ctx, r.versionKey(doc.ID(), first.Number()), headKey)
		return domdoc.Document{}, fmt.Errorf("hset %s: %w", key, err)
	}
	return created, nil
}

// discard removes the keys of a creation that did not complete.
func (r *Repo) discard(ctx context.Context, keys ...string) {
	for _, k := range keys {
		_ = r.store.Del(ctx, k)
	}
}

// Append stores v as the next version of doc and moves the head.
func (r *Repo) Append(ctx context.Context, doc *domdoc.Document, v *domdoc.Version) (domdoc.Document, error) {
	if v.Number() != doc.Head()+1 {
		return domdoc.Document{}, domain.NewVersionConflict(doc.ID(), v.Number())
	}
	if err := r.putVersion(ctx, v); err != nil {
		return domdoc.Document{}, err
	}
	headKey := r.headKey(doc.ID())
	head, err := r.store.IncrBy(ctx, headKey, 1)
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("incrby %s: %w", headKey, err)
	}
	switch {
	case head > int64(v.Number()):
		return domdoc.Document{}, fmt.Errorf("head of %s moved to %d while committing %d: %w",
			doc.ID(), head, v.Number(), domain.ErrConflict)
	case head < int64(v.Number()):
		// The counter missed earlier increments. Every version up to v is
		// written, so it moves up to v.
		if err := r.store.Set(ctx, headKey, []byte(strconv.Itoa(v.Number()))); err != nil {
			return domdoc.Document{}, fmt.Errorf("set %s: %w", headKey, err)
		}
	}
	next := doc.Advance(v)
	key := r.docKey(doc.ID())
	if err := r.store.HSet(ctx, key, headFields(&next)); err != nil {
		return domdoc.Document{}, fmt.Errorf("hset %s: %w", key, err)
	}
	return next, nil
}

func (r *Repo) putVersion(ctx context.Context, v *domdoc.Version) error {
	data, err := encodeVersion(v)
	if err != nil {
		return err
	}
	key := r.versionKey(v.DocumentID(), v.Number())
	if err := r.store.SetNX(ctx, key, data); err != nil {
		if errors.Is(err, db.ErrKeyExists) {
			return domain.NewVersionConflict(v.DocumentID(), v.Number())
		}
		return fmt.Errorf("setnx %s: %w", key, err)
	}
	return nil
}

// Get returns a document by ID.
func (r *Repo) Get(ctx context.Context, id string) (domdoc.Document, error) {
	key := r.docKey(id)
	m, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(m) == 0 {
		return domdoc.Document{}, domain.ErrDocumentNotFound
	}
	doc, err := parseHashFields(m)
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("parse document %s: %w", id, err)
	}
	return r.catchUp(ctx, &doc)
}

// catchUp applies a head the counter committed but the hash missed, which
// happens when a writer fails between the two writes. Only the head version
// matters: a tombstone is always the last one.
func (r *Repo) catchUp(ctx context.Context, doc *domdoc.Document) (domdoc.Document, error) {
	key := r.headKey(doc.ID())
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, db.ErrKeyNotFound) {
		return *doc, nil
	}
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("get %s: %w", key, err)
	}
	head, err := strconv.Atoi(string(raw))
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("parse %s %q: %w", key, raw, err)
	}
	if head <= doc.Head() {
		return *doc, nil
	}
	v, err := r.Version(ctx, doc.ID(), head)
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("head version %d of %s: %w", head, doc.ID(), err)
	}
	return doc.Advance(&v), nil
}

// GetMany returns the stored documents among ids in the given order,
// skipping unknown ids. It reads the hashes in one round trip and does not
// consult the head counter, so a head may lag what Get reports.
func (r *Repo) GetMany(ctx context.Context, ids []string) ([]domdoc.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.docKey(id)
	}
	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("hgetall documents: %w", err)
	}
	out := make([]domdoc.Document, 0, len(hashes))
	for i, m := range hashes {
		if len(m) == 0 {
			continue
		}
		doc, err := parseHashFields(m)
		if err != nil {
			return nil, fmt.Errorf("parse document %s: %w", ids[i], err)
		}
		out = append(out, doc)
	}
	return out, nil
}

// Version returns one version of a document.
func (r *Repo) Version(ctx context.Context, id string, number int) (domdoc.Version, error) {
	key := r.versionKey(id, number)
	data, err := r.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domdoc.Version{}, domain.ErrVersionNotFound
		}
		return domdoc.Version{}, fmt.Errorf("get %s: %w", key, err)
	}
	return decodeVersion(data)
}

// Versions returns versions from..to inclusive in ascending order. A gap
// means the ledger is corrupt and is reported as an error.
func (r *Repo) Versions(ctx context.Context, id string, from, to int) ([]domdoc.Version, error) {
	if from < 1 || to < from {
		return nil, nil
	}
	keys := make([]string, 0, to-from+1)
	for n := from; n <= to; n++ {
		keys = append(keys, r.versionKey(id, n))
	}
	raw, err := r.store.MGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("mget versions of %s: %w", id, err)
	}
	out := make([]domdoc.Version, 0, len(raw))
	for i, data := range raw {
		if data == nil {
			return nil, fmt.Errorf("version %d of %s missing: %w", from+i, id, domain.ErrVersionNotFound)
		}
		v, err := decodeVersion(data)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// IDs returns the ids of every stored document.
func (r *Repo) IDs(ctx context.Context) ([]string, error) {
	keys, err := r.store.Scan(ctx, r.prefix+"document:*")
	if err != nil {
		return nil, fmt.Errorf("scan documents: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, r.prefix+"document:"))
	}
	return ids, nil
}

func (r *Repo) docKey(id string) string {
	return r.prefix + "document:" + id
}

func (r *Repo) headKey(id string) string {
	return r.prefix + "head:" + id
}

func (r *Repo) versionKey(id string, n int) string {
	return r.prefix + "version:" + id + ":" + strconv.Itoa(n)
}
