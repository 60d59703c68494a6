package permission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rfpdesk/docvault/internal/db/memory"
	"github.com/rfpdesk/docvault/internal/domain"
	"github.com/rfpdesk/docvault/internal/domain/access"
	domdoc "github.com/rfpdesk/docvault/internal/domain/document"
	repogrant "github.com/rfpdesk/docvault/internal/repository/grant"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type mockDocs struct {
	mu   sync.Mutex
	docs map[string]domdoc.Document
}

func (m *mockDocs) GetDocument(_ context.Context, id string) (domdoc.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return domdoc.Document{}, domain.ErrDocumentNotFound
	}
	return d, nil
}

func (m *mockDocs) put(d domdoc.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[d.ID()] = d
}

type mockDirectory struct {
	rolesFn  func(ctx context.Context, principal string) ([]string, error)
	policyFn func(ctx context.Context, rfpID string) (access.Policy, error)
}

func (m *mockDirectory) ResolveRoles(ctx context.Context, principal string) ([]string, error) {
	if m.rolesFn != nil {
		return m.rolesFn(ctx, principal)
	}
	return nil, nil
}

func (m *mockDirectory) RFPDefaultPolicy(ctx context.Context, rfpID string) (access.Policy, error) {
	if m.policyFn != nil {
		return m.policyFn(ctx, rfpID)
	}
	return access.Policy{}, nil
}

// membersCanView is the directory of rfp-1: everyone in "rfp-1:member"
// views by default.
func membersCanView() *mockDirectory {
	return &mockDirectory{
		rolesFn: func(_ context.Context, p string) ([]string, error) {
			switch p {
			case "alice", "bob", "carol":
				return []string{"rfp-1:member"}, nil
			case "lead":
				return []string{"rfp-1:member", "rfp-1:lead"}, nil
			}
			return nil, nil
		},
		policyFn: func(_ context.Context, _ string) (access.Policy, error) {
			return access.Policy{"rfp-1:member": access.View, "rfp-1:lead": access.Edit}, nil
		},
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	eval  *Evaluator
	docs  *mockDocs
	clock *clock
}

func newFixture(t *testing.T, dir Directory) fixture {
	t.Helper()
	docs := &mockDocs{docs: map[string]domdoc.Document{}}
	d, err := domdoc.New("d1", "rfp-1", "budget.txt", "", "alice", t0)
	if err != nil {
		t.Fatal(err)
	}
	docs.put(domdoc.Reconstruct(d.ID(), d.RFPID(), d.Filename(), d.Type(), d.CreatedBy(), d.CreatedAt(), 1, time.Time{}, ""))
	c := &clock{now: t0}
	eval := New(docs, repogrant.New(memory.NewStore(), "test:"), dir).WithClock(c.Now)
	return fixture{eval: eval, docs: docs, clock: c}
}
