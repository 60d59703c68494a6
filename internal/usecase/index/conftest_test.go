package index

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rfpdesk/docvault/internal/domain/access"
	domdoc "github.com/rfpdesk/docvault/internal/domain/document"
	"github.com/rfpdesk/docvault/internal/domain/search/filter"
	"github.com/rfpdesk/docvault/internal/domain/search/request"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// mockLive answers CanView from a static table unless canViewFn is set.
type mockLive struct {
	mu        sync.Mutex
	allowed   map[string]map[string]bool // principal -> document -> allowed
	canViewFn func(ctx context.Context, principal, documentID string) (bool, error)
	calls     int
}

func (m *mockLive) CanView(ctx context.Context, principal, documentID string) (bool, error) {
	m.mu.Lock()
	m.calls++
	fn := m.canViewFn
	ok := m.allowed[principal][documentID]
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, principal, documentID)
	}
	return ok, nil
}

func (m *mockLive) allow(principal string, docs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allowed == nil {
		m.allowed = map[string]map[string]bool{}
	}
	if m.allowed[principal] == nil {
		m.allowed[principal] = map[string]bool{}
	}
	for _, d := range docs {
		m.allowed[principal][d] = true
	}
}

func newDoc(t *testing.T, id, rfp, filename, docType string) domdoc.Document {
	t.Helper()
	d, err := domdoc.New(id, rfp, filename, docType, "alice", t0)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func newVersion(t *testing.T, docID string, n int, text string, at time.Time) domdoc.Version {
	t.Helper()
	v, err := domdoc.NewVersion(docID, n, domdoc.Content{
		Key: "k/" + docID, Digest: "sha256:x", Size: int64(len(text)), MimeType: "text/plain", Filename: docID + ".txt",
	}, text, "", "alice", at)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func users(ids ...string) access.Closure {
	c := access.Closure{Users: map[string]struct{}{}, Roles: map[string]struct{}{}}
	for _, id := range ids {
		c.Users[id] = struct{}{}
	}
	return c
}

func searchReq(t *testing.T, q string, offset, limit int, history bool) request.Request {
	t.Helper()
	f, _ := filter.NewExpression(nil, nil, nil)
	r, err := request.New(q, f, offset, limit, history)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func hitIDs(t *testing.T, ix *Index, who string, req request.Request) []string {
	t.Helper()
	var ids []string
	for r, err := range ix.Search(context.Background(), access.Subject{Principal: who}, req) {
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		ids = append(ids, r.DocumentID())
	}
	return ids
}
