package document

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rfpdesk/docvault/internal/domain"
	"github.com/rfpdesk/docvault/internal/domain/access"
	domaudit "github.com/rfpdesk/docvault/internal/domain/audit"
	domdoc "github.com/rfpdesk/docvault/internal/domain/document"
	"github.com/rfpdesk/docvault/internal/domain/search/filter"
	"github.com/rfpdesk/docvault/internal/domain/search/request"
	"github.com/rfpdesk/docvault/internal/metrics"
	"github.com/rfpdesk/docvault/internal/usecase/permission"
)

func TestSearch_GrantMakesDocumentVisible(t *testing.T) {
	f := newFixture(t)
	d1 := f.createDoc(t, "alice", "quarterly budget report")
	f.await(t)

	if got := f.search(t, "alice", "budget"); !slices.Equal(got, []string{d1}) {
		t.Fatalf("alice = %v", got)
	}
	if got := f.search(t, "bob", "budget"); len(got) != 0 {
		t.Fatalf("bob before grant = %v", got)
	}

	if _, err := f.svc.GrantAccess(context.Background(), "alice", d1, access.User("bob"), access.View, time.Time{}); err != nil {
		t.Fatal(err)
	}
	f.await(t)
	if got := f.search(t, "bob", "budget"); !slices.Equal(got, []string{d1}) {
		t.Errorf("bob after grant = %v", got)
	}
}

func TestSearch_RevokeHidesImmediately(t *testing.T) {
	f := newFixture(t)
	d1 := f.createDoc(t, "alice", "budget")
	if _, err := f.svc.GrantAccess(context.Background(), "alice", d1, access.User("bob"), access.View, time.Time{}); err != nil {
		t.Fatal(err)
	}
	f.await(t)

	// The revocation is visible to the next search even before the closure
	// is refreshed, because every hit is re-checked live.
	if _, err := f.svc.RevokeAccess(context.Background(), "alice", d1, access.User("bob")); err != nil {
		t.Fatal(err)
	}
	if got := f.search(t, "bob", "budget"); len(got) != 0 {
		t.Errorf("bob after revoke = %v", got)
	}
}

func TestDownload_PolicyViewIsNotEnough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d1 := f.createDoc(t, "alice", "v1 text")

	// carol uploads version 2 under a temporary edit grant.
	if _, err := f.svc.GrantAccess(ctx, "alice", d1, access.User("carol"), access.Edit, time.Time{}); err != nil {
		t.Fatal(err)
	}
	v2, err := f.svc.CreateVersion(ctx, "carol", d1, NewVersion{MimeType: "text/plain", Data: []byte("v2 text")})
	if err != nil {
		t.Fatal(err)
	}
	if v2.Number() != 2 || v2.UploadedBy() != "carol" {
		t.Fatalf("v2 = %d by %s", v2.Number(), v2.UploadedBy())
	}
	if _, err := f.svc.RevokeAccess(ctx, "alice", d1, access.User("carol")); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.CheckDownloadPermission(ctx, "carol", d1, domdoc.Number(1)); !errors.Is(err, domain.ErrDenied) {
		t.Errorf("carol download err = %v, want denied", err)
	}
	if _, err := f.svc.GetDocumentByID(ctx, "carol", d1); err != nil {
		t.Errorf("carol metadata read: %v", err)
	}

	ticket, err := f.svc.CheckDownloadPermission(ctx, "alice", d1, domdoc.Number(1))
	if err != nil {
		t.Fatal(err)
	}
	if ticket.Version != 1 || !strings.HasPrefix(ticket.URL, "memory://") || ticket.Filename != "report.txt" {
		t.Errorf("ticket = %+v", ticket)
	}
	if !strings.HasPrefix(ticket.Digest, "sha256:") {
		t.Errorf("digest = %s", ticket.Digest)
	}

	log, err := f.svc.AccessLog(ctx, "alice", d1, 0)
	if err != nil {
		t.Fatal(err)
	}
	var denied, allowed int
	for _, e := range log {
		if e.Action != "download" {
			continue
		}
		switch e.Decision {
		case domaudit.Denied:
			denied++
		case domaudit.Allowed:
			allowed++
		}
	}
	if denied != 1 || allowed != 1 {
		t.Errorf("download log denied=%d allowed=%d", denied, allowed)
	}
	if _, err := f.svc.AccessLog(ctx, "carol", d1, 10); !errors.Is(err, domain.ErrDenied) {
		t.Errorf("carol access log err = %v", err)
	}
}

func TestCreateVersion_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d1 := f.createDoc(t, "alice", "v1")

	var wg sync.WaitGroup
	nums := make([]int, 2)
	// dave edits through the lead role, not through a grant.
	for i, who := range []string{"alice", "dave"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := f.svc.CreateVersion(ctx, who, d1, NewVersion{MimeType: "text/plain", Data: []byte("by " + who)})
			if err != nil {
				t.Errorf("CreateVersion(%s): %v", who, err)
				return
			}
			nums[i] = v.Number()
		}()
	}
	wg.Wait()
	slices.Sort(nums)
	if !slices.Equal(nums, []int{2, 3}) {
		t.Errorf("numbers = %v, want [2 3]", nums)
	}

	seq, err := f.svc.ListVersions(ctx, "alice", d1, 0)
	if err != nil {
		t.Fatal(err)
	}
	var listed []int
	for v, err := range seq {
		if err != nil {
			t.Fatal(err)
		}
		listed = append(listed, v.Number())
	}
	if !slices.Equal(listed, []int{1, 2, 3}) {
		t.Errorf("history = %v", listed)
	}
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d1 := f.createDoc(t, "alice", "budget")
	f.await(t)

	if _, err := f.svc.DeleteDocument(ctx, "carol", d1); !errors.Is(err, domain.ErrDenied) {
		t.Fatalf("carol delete err = %v", err)
	}
	marker, err := f.svc.DeleteDocument(ctx, "alice", d1)
	if err != nil {
		t.Fatal(err)
	}
	if !marker.Tombstone() || marker.Number() != 2 {
		t.Errorf("marker = %d tombstone=%v", marker.Number(), marker.Tombstone())
	}

	// Gone from search at once, before propagation.
	if got := f.search(t, "alice", "budget"); len(got) != 0 {
		t.Errorf("search after delete = %v", got)
	}
	f.await(t)
	if got := f.search(t, "alice", "budget"); len(got) != 0 {
		t.Errorf("search after propagation = %v", got)
	}

	doc, err := f.svc.GetDocumentByID(ctx, "alice", d1)
	if err != nil || !doc.Deleted() {
		t.Errorf("metadata after delete: deleted=%v err=%v", doc.Deleted(), err)
	}
	latest, err := f.svc.GetVersion(ctx, "alice", d1, domdoc.Latest())
	if err != nil || !latest.Tombstone() {
		t.Errorf("latest after delete = %v, %v", latest.Number(), err)
	}
	if _, err := f.svc.CheckDownloadPermission(ctx, "alice", d1, domdoc.Number(1)); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("download after delete err = %v, want not found", err)
	}
	if _, err := f.svc.CreateVersion(ctx, "alice", d1, NewVersion{MimeType: "text/plain", Data: []byte("x")}); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("create after delete err = %v, want conflict", err)
	}
	if _, err := f.svc.DeleteDocument(ctx, "alice", d1); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("second delete err = %v, want conflict", err)
	}
}

func TestIdentityOutage_IsNotDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d1 := f.createDoc(t, "alice", "budget")
	f.await(t)

	f.dir.down.Store(true)
	defer f.dir.down.Store(false)

	_, err := f.svc.CheckDownloadPermission(ctx, "alice", d1, domdoc.Latest())
	if !errors.Is(err, domain.ErrEvaluation) || errors.Is(err, domain.ErrDenied) {
		t.Errorf("download err = %v, want evaluation error", err)
	}
	_, err = f.svc.CreateVersion(ctx, "alice", d1, NewVersion{MimeType: "text/plain", Data: []byte("x")})
	if !errors.Is(err, domain.ErrEvaluation) {
		t.Errorf("create version err = %v", err)
	}
	expr, _ := filter.NewExpression(nil, nil, nil)
	req, _ := request.New("budget", expr, 0, 10, false)
	if _, err := f.svc.PerformDocumentSearch(ctx, "alice", req); !errors.Is(err, domain.ErrEvaluation) {
		t.Errorf("search err = %v", err)
	}
}

func TestCreateDocument_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tests := []struct {
		name string
		who  string
		in   NewDocument
		want error
	}{
		{"empty content", "alice", NewDocument{RFPID: "rfp-1", Filename: "a.txt", MimeType: "text/plain"}, domain.ErrInvalidInput},
		{"disallowed type", "alice", NewDocument{RFPID: "rfp-1", Filename: "a.exe", MimeType: "application/x-msdownload", Data: []byte("MZ")}, domain.ErrUnsupportedContent},
		{"missing filename", "alice", NewDocument{RFPID: "rfp-1", MimeType: "text/plain", Data: []byte("x")}, domain.ErrInvalidInput},
		{"member cannot create", "carol", NewDocument{RFPID: "rfp-1", Filename: "a.txt", MimeType: "text/plain", Data: []byte("x")}, domain.ErrDenied},
		{"outsider cannot create", "bob", NewDocument{RFPID: "rfp-1", Filename: "a.txt", MimeType: "text/plain", Data: []byte("x")}, domain.ErrDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := f.svc.CreateDocument(ctx, tt.who, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreateDocument_CreatorManages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d1 := f.createDoc(t, "alice", "budget")

	grants, err := f.svc.Grants(ctx, "alice", d1)
	if err != nil {
		t.Fatal(err)
	}
	if len(grants) != 1 || grants[0].Grantee != access.User("alice") || grants[0].Level != access.Manage {
		t.Errorf("grants = %+v", grants)
	}
	if _, err := f.svc.GrantAccess(ctx, "alice", d1, access.User("bob"), access.None, time.Time{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("grant none err = %v", err)
	}
	if _, err := f.svc.GrantAccess(ctx, "carol", d1, access.User("bob"), access.View, time.Time{}); !errors.Is(err, domain.ErrDenied) {
		t.Errorf("non-manager grant err = %v", err)
	}
}

func TestNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.GetDocumentByID(ctx, "alice", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("get err = %v", err)
	}
	if _, err := f.svc.CheckDownloadPermission(ctx, "alice", "missing", domdoc.Latest()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("download err = %v", err)
	}
	if _, err := f.svc.ListVersions(ctx, "alice", "missing", 0); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("list err = %v", err)
	}
}

func TestMutationStages(t *testing.T) {
	f := newFixture(t)
	before := testutil.ToFloat64(metrics.MutationStageTotal.WithLabelValues("create_document", "acknowledged"))
	f.createDoc(t, "alice", "x")
	after := testutil.ToFloat64(metrics.MutationStageTotal.WithLabelValues("create_document", "acknowledged"))
	if after-before != 1 {
		t.Errorf("acknowledged delta = %v", after-before)
	}

	deniedBefore := testutil.ToFloat64(metrics.MutationStageTotal.WithLabelValues("create_document", "denied"))
	_, _, _ = f.svc.CreateDocument(context.Background(), "bob", NewDocument{
		RFPID: "rfp-1", Filename: "a.txt", MimeType: "text/plain", Data: []byte("x"),
	})
	if d := testutil.ToFloat64(metrics.MutationStageTotal.WithLabelValues("create_document", "denied")) - deniedBefore; d != 1 {
		t.Errorf("denied delta = %v", d)
	}
}

func TestIndexWait_AcknowledgesAfterIndexing(t *testing.T) {
	f := newFixture(t)
	f.svc.WithIndexWait(2 * time.Second)
	before := testutil.ToFloat64(metrics.MutationStageTotal.WithLabelValues("create_document", "indexed"))
	d1 := f.createDoc(t, "alice", "immediately searchable")
	if got := f.search(t, "alice", "searchable"); !slices.Equal(got, []string{d1}) {
		t.Errorf("search right after create = %v", got)
	}
	if d := testutil.ToFloat64(metrics.MutationStageTotal.WithLabelValues("create_document", "indexed")) - before; d != 1 {
		t.Errorf("indexed delta = %v", d)
	}
}

func TestCreateDocument_GrantStoreDown(t *testing.T) {
	f := newFixtureWithGrants(t, func(g permission.GrantRepository) permission.GrantRepository {
		return brokenGrants{g}
	})
	ctx := context.Background()
	d1 := f.createDoc(t, "alice", "quarterly budget report")
	f.await(t)

	if got := f.search(t, "alice", "budget"); !slices.Equal(got, []string{d1}) {
		t.Errorf("creator search = %v, want [%s]", got, d1)
	}
	grants, err := f.svc.Grants(ctx, "alice", d1)
	if err != nil {
		t.Fatalf("Grants: %v", err)
	}
	if len(grants) != 1 || grants[0].Level != access.Manage {
		t.Errorf("grants = %+v", grants)
	}
	if _, err := f.svc.GrantAccess(ctx, "alice", d1, access.User("bob"), access.View, time.Time{}); err == nil || errors.Is(err, domain.ErrDenied) {
		t.Errorf("grant with store down err = %v, want storage failure", err)
	}
	if _, err := f.svc.DeleteDocument(ctx, "alice", d1); err != nil {
		t.Errorf("creator delete: %v", err)
	}
}

func TestSignVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d1 := f.createDoc(t, "alice", "draft one")
	v2, err := f.svc.CreateVersion(ctx, "alice", d1, NewVersion{MimeType: "text/plain", Data: []byte("draft two")})
	if err != nil {
		t.Fatal(err)
	}
	before := testutil.ToFloat64(metrics.MutationStageTotal.WithLabelValues("sign_version", "acknowledged"))

	if _, err := f.svc.SignVersion(ctx, "carol", d1, domdoc.Latest(), []byte("carol")); !errors.Is(err, domain.ErrDenied) {
		t.Errorf("viewer sign err = %v, want ErrDenied", err)
	}
	if _, err := f.svc.SignVersion(ctx, "alice", d1, domdoc.Latest(), nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("empty data err = %v, want ErrInvalidInput", err)
	}
	big := make([]byte, MaxSignatureSize+1)
	if _, err := f.svc.SignVersion(ctx, "alice", d1, domdoc.Latest(), big); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("oversized data err = %v, want ErrInvalidInput", err)
	}

	latest, err := f.svc.SignVersion(ctx, "alice", d1, domdoc.Latest(), []byte("alice"))
	if err != nil {
		t.Fatal(err)
	}
	if latest.Version != 2 || latest.SignerID != "alice" || latest.ContentDigest != v2.Content().Digest {
		t.Errorf("signature = %+v", latest)
	}
	if !strings.HasPrefix(latest.Hash, "sha256:") {
		t.Errorf("hash = %q", latest.Hash)
	}
	if _, err := f.svc.SignVersion(ctx, "alice", d1, domdoc.Number(2), []byte("again")); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("second signature err = %v, want ErrConflict", err)
	}

	first, err := f.svc.SignVersion(ctx, "alice", d1, domdoc.Number(1), []byte("alice"))
	if err != nil {
		t.Fatal(err)
	}
	if first.Hash == latest.Hash {
		t.Error("signatures over different versions must hash differently")
	}
	if _, err := f.svc.SignVersion(ctx, "dave", d1, domdoc.Number(2), []byte("dave")); err != nil {
		t.Errorf("second signer: %v", err)
	}
	if d := testutil.ToFloat64(metrics.MutationStageTotal.WithLabelValues("sign_version", "acknowledged")) - before; d != 3 {
		t.Errorf("acknowledged delta = %v, want 3", d)
	}

	sigs, err := f.svc.Signatures(ctx, "carol", d1)
	if err != nil {
		t.Fatalf("viewer Signatures: %v", err)
	}
	var got []string
	for _, s := range sigs {
		got = append(got, s.SignerID+"@"+strconv.Itoa(s.Version))
	}
	if !slices.Equal(got, []string{"alice@1", "alice@2", "dave@2"}) {
		t.Errorf("signatures = %v", got)
	}

	entries, _ := f.svc.AccessLog(ctx, "alice", d1, 0)
	signed := 0
	for _, e := range entries {
		if e.Action == "sign" && e.Decision == domaudit.Allowed {
			signed++
		}
	}
	if signed != 3 {
		t.Errorf("sign entries = %d, want 3", signed)
	}

	if _, err := f.svc.DeleteDocument(ctx, "alice", d1); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.SignVersion(ctx, "dave", d1, domdoc.Number(1), []byte("late")); !errors.Is(err, domain.ErrDocumentDeleted) {
		t.Errorf("sign after delete err = %v, want ErrDocumentDeleted", err)
	}
}
