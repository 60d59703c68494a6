package access

import (
	"fmt"
	"strings"
	"time"
)

// GranteeKind distinguishes user grants from role grants.
type GranteeKind string

// Grantee kinds.
const (
	KindUser GranteeKind = "user"
	KindRole GranteeKind = "role"
)

// Grantee is the subject of a grant.
type Grantee struct {
	Kind GranteeKind
	ID   string
}

// User returns a user grantee.
func User(id string) Grantee { return Grantee{Kind: KindUser, ID: id} }

// Role returns a role grantee.
func Role(id string) Grantee { return Grantee{Kind: KindRole, ID: id} }

// ParseGrantee parses the "<kind>:<id>" form produced by Key.
func ParseGrantee(s string) (Grantee, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return Grantee{}, fmt.Errorf("grantee %q: missing kind", s)
	}
	g := Grantee{Kind: GranteeKind(kind), ID: id}
	if err := g.Validate(); err != nil {
		return Grantee{}, err
	}
	return g, nil
}

// Validate checks kind and id.
func (g Grantee) Validate() error {
	if g.Kind != KindUser && g.Kind != KindRole {
		return fmt.Errorf("grantee kind must be %q or %q, got %q", KindUser, KindRole, g.Kind)
	}
	if g.ID == "" {
		return fmt.Errorf("grantee id is required")
	}
	return nil
}

// Key is the storage key of the grantee, unique per document.
func (g Grantee) Key() string { return string(g.Kind) + ":" + g.ID }

func (g Grantee) String() string { return g.Key() }

// Grant attaches a level to a grantee on one document. A grant with level
// None is a revocation record. ExpiresAt zero means no expiry.
type Grant struct {
	DocumentID string
	Grantee    Grantee
	Level      Level
	GrantedBy  string
	GrantedAt  time.Time
	ExpiresAt  time.Time
}

// Active reports whether the grant is in force at now. Expired grants are
// treated as absent.
func (g Grant) Active(now time.Time) bool {
	return g.ExpiresAt.IsZero() || now.Before(g.ExpiresAt)
}

// Supersedes reports whether g wins over other for the same
// (grantee, document) pair. Later GrantedAt wins; on equal timestamps the
// incoming record wins, so a grant followed by a revoke in the same tick
// ends revoked.
func (g Grant) Supersedes(other Grant) bool {
	return !g.GrantedAt.Before(other.GrantedAt)
}

// CreatorGrant is the manage grant a document's creator holds from the
// moment of creation. It is derived from the document record, never stored;
// a later record for the same user supersedes it like any other grant.
func CreatorGrant(documentID, creator string, at time.Time) Grant {
	return Grant{
		DocumentID: documentID,
		Grantee:    User(creator),
		Level:      Manage,
		GrantedBy:  creator,
		GrantedAt:  at,
	}
}
