package document

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rfpdesk/docvault/internal/db/memory"
	"github.com/rfpdesk/docvault/internal/domain/access"
	"github.com/rfpdesk/docvault/internal/domain/search/filter"
	"github.com/rfpdesk/docvault/internal/domain/search/request"
	"github.com/rfpdesk/docvault/internal/extract"
	repoaudit "github.com/rfpdesk/docvault/internal/repository/audit"
	repodoc "github.com/rfpdesk/docvault/internal/repository/document"
	repogrant "github.com/rfpdesk/docvault/internal/repository/grant"
	reposig "github.com/rfpdesk/docvault/internal/repository/signature"
	"github.com/rfpdesk/docvault/internal/storage"
	"github.com/rfpdesk/docvault/internal/transport/identity"
	"github.com/rfpdesk/docvault/internal/usecase/index"
	"github.com/rfpdesk/docvault/internal/usecase/permission"
	"github.com/rfpdesk/docvault/internal/usecase/versionstore"
)

// switchableDirectory fails every lookup while down is set.
type switchableDirectory struct {
	*identity.Static
	down atomic.Bool
}

func (d *switchableDirectory) ResolveRoles(ctx context.Context, principal string) ([]string, error) {
	if d.down.Load() {
		return nil, fmt.Errorf("identity service unreachable")
	}
	return d.Static.ResolveRoles(ctx, principal)
}

func (d *switchableDirectory) RFPDefaultPolicy(ctx context.Context, rfpID string) (access.Policy, error) {
	if d.down.Load() {
		return nil, fmt.Errorf("identity service unreachable")
	}
	return d.Static.RFPDefaultPolicy(ctx, rfpID)
}

type fixture struct {
	svc   *Service
	dir   *switchableDirectory
	store *versionstore.Service
}

// newFixture wires the facade on in-memory backends. In rfp-1 "lead"
// members edit and "member" members view by default; alice leads, carol
// is a member and bob holds no role.
func newFixture(t *testing.T) fixture {
	t.Helper()
	return newFixtureWithGrants(t, nil)
}

// brokenGrants fails every grant write.
type brokenGrants struct {
	permission.GrantRepository
}

func (brokenGrants) Put(context.Context, access.Grant) (access.Grant, error) {
	return access.Grant{}, fmt.Errorf("grant store unavailable")
}

// newFixtureWithGrants is newFixture with the grant repository passed
// through wrap when it is non-nil.
func newFixtureWithGrants(t *testing.T, wrap func(permission.GrantRepository) permission.GrantRepository) fixture {
	t.Helper()
	db := memory.NewStore()
	dir := &switchableDirectory{Static: identity.NewStatic(
		map[string][]string{
			"alice": {"rfp-1:lead"},
			"carol": {"rfp-1:member"},
			"dave":  {"rfp-1:lead"},
		},
		map[string]access.Policy{
			"rfp-1": {"rfp-1:lead": access.Edit, "rfp-1:member": access.View},
		},
	)}

	store := versionstore.New(repodoc.New(db, "test:"))
	var grants permission.GrantRepository = repogrant.New(db, "test:")
	if wrap != nil {
		grants = wrap(grants)
	}
	eval := permission.New(store, grants, dir).WithTimeout(time.Second)
	ix := index.New(NewLiveView(store, eval))
	prop := index.NewPropagator(ix, store, eval, index.PropagatorConfig{
		Workers: 2, RetryBase: time.Millisecond, ReconcileInterval: time.Hour,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = prop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	svc := New(store, eval, ix, prop, storage.NewMemory(), extract.NewRegistry(nil), repoaudit.New(db, "test:"), reposig.New(db, "test:"))
	return fixture{svc: svc, dir: dir, store: store}
}

func (f fixture) createDoc(t *testing.T, by, text string) string {
	t.Helper()
	doc, v, err := f.svc.CreateDocument(context.Background(), by, NewDocument{
		RFPID: "rfp-1", Filename: "report.txt", MimeType: "text/plain", Data: []byte(text),
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if v.Number() != 1 {
		t.Fatalf("first version = %d", v.Number())
	}
	return doc.ID()
}

func (f fixture) await(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.svc.AwaitIndexed(ctx); err != nil {
		t.Fatalf("AwaitIndexed: %v", err)
	}
}

func (f fixture) search(t *testing.T, who, q string) []string {
	t.Helper()
	expr, _ := filter.NewExpression(nil, nil, nil)
	req, err := request.New(q, expr, 0, 50, false)
	if err != nil {
		t.Fatal(err)
	}
	page, err := f.svc.PerformDocumentSearch(context.Background(), who, req)
	if err != nil {
		t.Fatalf("search(%s, %q): %v", who, q, err)
	}
	ids := make([]string, 0, len(page.Results))
	for _, r := range page.Results {
		ids = append(ids, r.DocumentID())
	}
	return ids
}
