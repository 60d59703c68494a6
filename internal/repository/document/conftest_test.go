package document

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rfpdesk/docvault/internal/db"
	"github.com/rfpdesk/docvault/internal/db/memory"
	domdoc "github.com/rfpdesk/docvault/internal/domain/document"
)

// mockStore implements the consumer interface for error-path tests.
type mockStore struct {
	hsetFn    func(ctx context.Context, key string, fields map[string]string) error
	hgetAllFn func(ctx context.Context, key string) (map[string]string, error)
	existsFn  func(ctx context.Context, key string) (bool, error)
	scanFn    func(ctx context.Context, pattern string) ([]string, error)
	getFn     func(ctx context.Context, key string) ([]byte, error)
	mgetFn    func(ctx context.Context, keys []string) ([][]byte, error)
	setNXFn   func(ctx context.Context, key string, value []byte) error
	setFn     func(ctx context.Context, key string, value []byte) error
	delFn     func(ctx context.Context, key string) error
	incrByFn  func(ctx context.Context, key string, val int64) (int64, error)
	multiFn   func(ctx context.Context, keys []string) ([]map[string]string, error)
}

func (m *mockStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if m.hsetFn != nil {
		return m.hsetFn(ctx, key, fields)
	}
	return nil
}

func (m *mockStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if m.hgetAllFn != nil {
		return m.hgetAllFn(ctx, key)
	}
	return map[string]string{}, nil
}

func (m *mockStore) Exists(ctx context.Context, key string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, key)
	}
	return false, nil
}

func (m *mockStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	if m.scanFn != nil {
		return m.scanFn(ctx, pattern)
	}
	return nil, nil
}

func (m *mockStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return nil, nil
}

func (m *mockStore) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	if m.mgetFn != nil {
		return m.mgetFn(ctx, keys)
	}
	return make([][]byte, len(keys)), nil
}

func (m *mockStore) SetNX(ctx context.Context, key string, value []byte) error {
	if m.setNXFn != nil {
		return m.setNXFn(ctx, key, value)
	}
	return nil
}

func (m *mockStore) Set(ctx context.Context, key string, value []byte) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value)
	}
	return nil
}

func (m *mockStore) Del(ctx context.Context, key string) error {
	if m.delFn != nil {
		return m.delFn(ctx, key)
	}
	return nil
}

func (m *mockStore) IncrBy(ctx context.Context, key string, val int64) (int64, error) {
	if m.incrByFn != nil {
		return m.incrByFn(ctx, key, val)
	}
	return val, nil
}

func (m *mockStore) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	if m.multiFn != nil {
		return m.multiFn(ctx, keys)
	}
	return make([]map[string]string, len(keys)), nil
}

// hashFailStore is a memory store whose HSet fails while fail is set.
type hashFailStore struct {
	*memory.Store
	fail bool
}

func (s *hashFailStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if s.fail {
		return &db.Error{Op: db.OpHSet, Err: errors.New("connection reset")}
	}
	return s.Store.HSet(ctx, key, fields)
}

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newMemoryRepo(t *testing.T) *Repo {
	t.Helper()
	return New(memory.NewStore(), "test:")
}

func testDocument(t *testing.T, id string) domdoc.Document {
	t.Helper()
	d, err := domdoc.New(id, "rfp-1", "budget.txt", "pricing", "alice", testNow)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func testVersion(t *testing.T, docID string, n int, text string) domdoc.Version {
	t.Helper()
	v, err := domdoc.NewVersion(docID, n, domdoc.Content{
		Key: "rfps/rfp-1/documents/" + docID + "/obj", Digest: "sha256:abc", Size: 11,
		MimeType: "text/plain", Filename: "budget.txt",
	}, text, "notes", "alice", testNow.Add(time.Duration(n)*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	return v
}
