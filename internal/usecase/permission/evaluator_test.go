package permission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rfpdesk/docvault/internal/domain"
	"github.com/rfpdesk/docvault/internal/domain/access"
	domdoc "github.com/rfpdesk/docvault/internal/domain/document"
)

func check(t *testing.T, f fixture, principal string, action access.Action) bool {
	t.Helper()
	ok, err := f.eval.CheckPermission(context.Background(), principal, "d1", action)
	if err != nil {
		t.Fatalf("CheckPermission(%s, %s): %v", principal, action, err)
	}
	return ok
}

func grant(t *testing.T, f fixture, g access.Grantee, l access.Level) {
	t.Helper()
	if _, err := f.eval.Grant(context.Background(), access.Grant{
		DocumentID: "d1", Grantee: g, Level: l, GrantedBy: "alice",
	}); err != nil {
		t.Fatalf("Grant: %v", err)
	}
}

func TestCheckPermission_PolicyViewDoesNotDownload(t *testing.T) {
	f := newFixture(t, membersCanView())

	if !check(t, f, "bob", access.ActionView) {
		t.Error("member should view through the RFP policy")
	}
	if check(t, f, "bob", access.ActionDownload) {
		t.Error("policy view must not satisfy download")
	}
	if check(t, f, "stranger", access.ActionView) {
		t.Error("non-member must not view")
	}
	if !check(t, f, "lead", access.ActionEdit) {
		t.Error("lead role should edit through the policy")
	}
}

func TestCheckPermission_MaxOverSources(t *testing.T) {
	f := newFixture(t, membersCanView())
	grant(t, f, access.Role("rfp-1:member"), access.Download)
	grant(t, f, access.User("bob"), access.View)

	if !check(t, f, "bob", access.ActionDownload) {
		t.Error("role grant download should win over user view")
	}
	if check(t, f, "bob", access.ActionEdit) {
		t.Error("no source grants edit")
	}
}

func TestCheckPermission_LevelMonotonic(t *testing.T) {
	f := newFixture(t, membersCanView())
	grant(t, f, access.User("carol"), access.Edit)

	actions := []access.Action{access.ActionView, access.ActionDownload, access.ActionEdit, access.ActionManage}
	for _, p := range []string{"alice", "bob", "carol", "lead", "stranger"} {
		allowedAbove := false
		for i := len(actions) - 1; i >= 0; i-- {
			ok := check(t, f, p, actions[i])
			if allowedAbove && !ok {
				t.Errorf("%s: %s allowed but %s denied", p, actions[i+1], actions[i])
			}
			allowedAbove = allowedAbove || ok
		}
	}
}

func TestRevoke_LastWriterWins(t *testing.T) {
	f := newFixture(t, &mockDirectory{})

	grant(t, f, access.User("bob"), access.Download)
	if !check(t, f, "bob", access.ActionDownload) {
		t.Fatal("grant not visible to the next check")
	}

	f.clock.Advance(time.Second)
	if _, err := f.eval.Revoke(context.Background(), "d1", access.User("bob"), "alice"); err != nil {
		t.Fatal(err)
	}
	if check(t, f, "bob", access.ActionView) {
		t.Error("revocation not visible to the next check")
	}

	// A stale grant arriving after the revocation loses.
	inForce, err := f.eval.Grant(context.Background(), access.Grant{
		DocumentID: "d1", Grantee: access.User("bob"), Level: access.Manage,
		GrantedBy: "alice", GrantedAt: t0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if inForce.Level != access.None {
		t.Errorf("in force = %s, want none", inForce.Level)
	}
	if check(t, f, "bob", access.ActionView) {
		t.Error("stale grant must not override a later revocation")
	}
}

func TestRevoke_SameTickEndsRevoked(t *testing.T) {
	f := newFixture(t, &mockDirectory{})
	grant(t, f, access.User("bob"), access.View)
	if _, err := f.eval.Revoke(context.Background(), "d1", access.User("bob"), "alice"); err != nil {
		t.Fatal(err)
	}
	if check(t, f, "bob", access.ActionView) {
		t.Error("revoke issued in the same tick as the grant must win")
	}
}

func TestRevoke_UserScopeKeepsPolicy(t *testing.T) {
	f := newFixture(t, membersCanView())
	grant(t, f, access.User("bob"), access.Download)
	if _, err := f.eval.Revoke(context.Background(), "d1", access.User("bob"), "alice"); err != nil {
		t.Fatal(err)
	}
	if check(t, f, "bob", access.ActionDownload) {
		t.Error("download should be revoked")
	}
	if !check(t, f, "bob", access.ActionView) {
		t.Error("policy view must survive a user-scope revocation")
	}
}

func TestGrant_Expiry(t *testing.T) {
	f := newFixture(t, &mockDirectory{})
	if _, err := f.eval.Grant(context.Background(), access.Grant{
		DocumentID: "d1", Grantee: access.User("bob"), Level: access.Download,
		GrantedBy: "alice", ExpiresAt: t0.Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}
	if !check(t, f, "bob", access.ActionDownload) {
		t.Error("grant should be active before expiry")
	}
	f.clock.Advance(2 * time.Hour)
	if check(t, f, "bob", access.ActionView) {
		t.Error("expired grant must count as absent")
	}
}

func TestGrant_Invalid(t *testing.T) {
	f := newFixture(t, &mockDirectory{})
	tests := []struct {
		name string
		g    access.Grant
		want error
	}{
		{"bad grantee", access.Grant{DocumentID: "d1", Grantee: access.Grantee{Kind: "team", ID: "x"}, Level: access.View}, domain.ErrInvalidInput},
		{"bad level", access.Grant{DocumentID: "d1", Grantee: access.User("bob"), Level: access.Level(9)}, domain.ErrInvalidInput},
		{"expiry before grant", access.Grant{DocumentID: "d1", Grantee: access.User("bob"), Level: access.View, ExpiresAt: t0.Add(-time.Hour)}, domain.ErrInvalidInput},
		{"unknown document", access.Grant{DocumentID: "nope", Grantee: access.User("bob"), Level: access.View}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.eval.Grant(context.Background(), tt.g); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGrant_DeletedDocument(t *testing.T) {
	f := newFixture(t, &mockDirectory{})
	f.docs.put(domdoc.Reconstruct("d1", "rfp-1", "budget.txt", "general", "alice", t0, 2, t0.Add(time.Minute), "alice"))
	_, err := f.eval.Grant(context.Background(), access.Grant{DocumentID: "d1", Grantee: access.User("bob"), Level: access.View})
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("err = %v, want conflict", err)
	}
}

func TestCheckPermission_NotFound(t *testing.T) {
	f := newFixture(t, membersCanView())
	_, err := f.eval.CheckPermission(context.Background(), "bob", "missing", access.ActionView)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestCheckPermission_IdentityFailure(t *testing.T) {
	outage := errors.New("connection refused")
	tests := []struct {
		name string
		dir  *mockDirectory
	}{
		{"roles error", &mockDirectory{rolesFn: func(context.Context, string) ([]string, error) { return nil, outage }}},
		{"policy error", &mockDirectory{policyFn: func(context.Context, string) (access.Policy, error) { return nil, outage }}},
		{"timeout", &mockDirectory{rolesFn: func(ctx context.Context, _ string) ([]string, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.dir)
			f.eval.WithTimeout(20 * time.Millisecond)
			ok, err := f.eval.CheckPermission(context.Background(), "bob", "d1", access.ActionView)
			if ok {
				t.Error("failure must never allow")
			}
			if !errors.Is(err, domain.ErrEvaluation) {
				t.Fatalf("err = %v, want evaluation error", err)
			}
			if errors.Is(err, domain.ErrDenied) {
				t.Error("evaluation error must be distinct from denied")
			}
			var ee *domain.EvaluationError
			if !errors.As(err, &ee) || !ee.Retryable() {
				t.Error("evaluation error should be retryable")
			}
		})
	}
}

func TestCheckPermission_UnknownAction(t *testing.T) {
	f := newFixture(t, &mockDirectory{})
	if _, err := f.eval.CheckPermission(context.Background(), "bob", "d1", "delete"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("err = %v", err)
	}
}

func TestCheckRFPPermission(t *testing.T) {
	f := newFixture(t, membersCanView())
	ok, err := f.eval.CheckRFPPermission(context.Background(), "lead", "rfp-1", access.ActionEdit)
	if err != nil || !ok {
		t.Errorf("lead edit = %v, %v", ok, err)
	}
	ok, err = f.eval.CheckRFPPermission(context.Background(), "bob", "rfp-1", access.ActionEdit)
	if err != nil || ok {
		t.Errorf("member edit = %v, %v", ok, err)
	}
}

func TestVisibility(t *testing.T) {
	f := newFixture(t, membersCanView())
	grant(t, f, access.User("dave"), access.View)
	grant(t, f, access.User("erin"), access.View)
	if _, err := f.eval.Revoke(context.Background(), "d1", access.User("erin"), "alice"); err != nil {
		t.Fatal(err)
	}

	c, err := f.eval.Visibility(context.Background(), "d1")
	if err != nil {
		t.Fatal(err)
	}
	if !c.Admits(access.Subject{Principal: "dave"}) {
		t.Error("dave should be in the closure")
	}
	if c.Admits(access.Subject{Principal: "erin"}) {
		t.Error("revoked erin must not be in the closure")
	}
	if !c.Admits(access.Subject{Principal: "x", Roles: []string{"rfp-1:member"}}) {
		t.Error("policy role should be in the closure")
	}
}

func TestGrants_Latest(t *testing.T) {
	f := newFixture(t, &mockDirectory{})
	grant(t, f, access.User("bob"), access.View)
	f.clock.Advance(time.Second)
	grant(t, f, access.User("bob"), access.Edit)
	gs, err := f.eval.Grants(context.Background(), "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(gs) != 2 {
		t.Fatalf("grants = %+v", gs)
	}
	if gs[0].Grantee != access.User("alice") || gs[0].Level != access.Manage {
		t.Errorf("creator grant = %+v", gs[0])
	}
	if gs[1].Grantee != access.User("bob") || gs[1].Level != access.Edit {
		t.Errorf("bob grant = %+v", gs[1])
	}
}

func TestCreator_ManagesWithoutStoredGrant(t *testing.T) {
	f := newFixture(t, &mockDirectory{})
	if !check(t, f, "alice", access.ActionManage) {
		t.Error("creator should manage with an empty grant set")
	}
	c, err := f.eval.Visibility(context.Background(), "d1")
	if err != nil {
		t.Fatal(err)
	}
	if !c.Admits(access.Subject{Principal: "alice"}) {
		t.Error("creator should be in the closure")
	}

	f.clock.Advance(time.Second)
	grant(t, f, access.User("alice"), access.View)
	if check(t, f, "alice", access.ActionEdit) {
		t.Error("a later user grant must replace the creator grant")
	}
	if !check(t, f, "alice", access.ActionView) {
		t.Error("replacement grant should apply")
	}
}
