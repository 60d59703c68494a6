// Package permission decides whether a principal may act on a document and
// owns the grant set.
package permission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rfpdesk/docvault/internal/domain"
	"github.com/rfpdesk/docvault/internal/domain/access"
	domdoc "github.com/rfpdesk/docvault/internal/domain/document"
	"github.com/rfpdesk/docvault/internal/keylock"
	"github.com/rfpdesk/docvault/internal/logger"
	"github.com/rfpdesk/docvault/internal/metrics"
)

const defaultTimeout = 2 * time.Second

// Evaluator resolves decisions as a pure function of the stored grants, the
// identity collaborator's answers and the current time.
type Evaluator struct {
	docs    DocumentReader
	grants  GrantRepository
	dir     Directory
	timeout time.Duration
	now     func() time.Time
	locks   *keylock.Map
}

// New creates an evaluator.
func New(docs DocumentReader, grants GrantRepository, dir Directory) *Evaluator {
	return &Evaluator{
		docs:    docs,
		grants:  grants,
		dir:     dir,
		timeout: defaultTimeout,
		now:     time.Now,
		locks:   keylock.New(),
	}
}

// WithTimeout bounds each identity lookup.
func (e *Evaluator) WithTimeout(d time.Duration) *Evaluator {
	if d > 0 {
		e.timeout = d
	}
	return e
}

// WithClock overrides the time source.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	if now != nil {
		e.now = now
	}
	return e
}

// CheckPermission reports whether principal may perform action on the
// document. A denial is (false, nil). Unknown documents fail with NotFound
// and identity failures with an EvaluationError.
func (e *Evaluator) CheckPermission(
	ctx context.Context, principal, documentID string, action access.Action,
) (bool, error) {
	required, err := action.Required()
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	level, err := e.Level(ctx, principal, documentID)
	if err != nil {
		if errors.Is(err, domain.ErrEvaluation) {
			metrics.PermissionChecksTotal.WithLabelValues(string(action), "error").Inc()
		}
		return false, err
	}
	return e.decide(ctx, principal, documentID, action, level.Satisfies(required)), nil
}

// Level returns the effective level of principal on the document.
func (e *Evaluator) Level(ctx context.Context, principal, documentID string) (access.Level, error) {
	doc, err := e.docs.GetDocument(ctx, documentID)
	if err != nil {
		return access.None, err
	}
	grants, err := e.grantSet(ctx, &doc)
	if err != nil {
		return access.None, err
	}
	subject, policy, err := e.identity(ctx, principal, doc.RFPID())
	if err != nil {
		return access.None, err
	}
	return access.Resolve(subject, grants, policy, e.now()), nil
}

// CheckRFPPermission evaluates action against the RFP default policy only.
// It gates the creation of new documents, which have no grants yet.
func (e *Evaluator) CheckRFPPermission(
	ctx context.Context, principal, rfpID string, action access.Action,
) (bool, error) {
	required, err := action.Required()
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	subject, policy, err := e.identity(ctx, principal, rfpID)
	if err != nil {
		metrics.PermissionChecksTotal.WithLabelValues(string(action), "error").Inc()
		return false, err
	}
	level := access.Resolve(subject, nil, policy, e.now())
	return e.decide(ctx, principal, "rfp:"+rfpID, action, level.Satisfies(required)), nil
}

func (e *Evaluator) decide(ctx context.Context, principal, target string, action access.Action, ok bool) bool {
	decision := "allow"
	if !ok {
		decision = "deny"
	}
	metrics.PermissionChecksTotal.WithLabelValues(string(action), decision).Inc()
	logger.FromContext(ctx).Debug("permission decision",
		zap.String("principal", principal), zap.String("target", target),
		zap.String("action", string(action)), zap.String("decision", decision))
	return ok
}

// identity fetches roles and the RFP policy concurrently under the lookup
// timeout.
func (e *Evaluator) identity(ctx context.Context, principal, rfpID string) (access.Subject, access.Policy, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var (
		roles  []string
		policy access.Policy
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := e.dir.ResolveRoles(gctx, principal)
		if err != nil {
			return domain.NewEvaluationError("resolve roles", err)
		}
		roles = r
		return nil
	})
	g.Go(func() error {
		p, err := e.dir.RFPDefaultPolicy(gctx, rfpID)
		if err != nil {
			return domain.NewEvaluationError("rfp default policy", err)
		}
		policy = p
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.FromContext(ctx).Warn("identity lookup failed",
			zap.String("principal", principal), zap.String("rfp_id", rfpID), zap.Error(err))
		return access.Subject{}, nil, err
	}
	return access.Subject{Principal: principal, Roles: roles}, policy, nil
}

// Grant records g. It returns the grant in force for the grantee afterwards,
// which differs from g only when a newer record already exists.
func (e *Evaluator) Grant(ctx context.Context, g access.Grant) (access.Grant, error) {
	if err := g.Grantee.Validate(); err != nil {
		return access.Grant{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	if !g.Level.Valid() {
		return access.Grant{}, fmt.Errorf("%w: invalid level %d", domain.ErrInvalidInput, g.Level)
	}
	if g.GrantedAt.IsZero() {
		g.GrantedAt = e.now()
	}
	if !g.ExpiresAt.IsZero() && !g.ExpiresAt.After(g.GrantedAt) {
		return access.Grant{}, fmt.Errorf("%w: expiry must be after grant time", domain.ErrInvalidInput)
	}

	unlock, err := e.locks.Lock(ctx, g.DocumentID)
	if err != nil {
		return access.Grant{}, fmt.Errorf("acquire grant token: %w", err)
	}
	defer unlock()

	doc, err := e.docs.GetDocument(ctx, g.DocumentID)
	if err != nil {
		return access.Grant{}, err
	}
	if doc.Deleted() {
		return access.Grant{}, fmt.Errorf("document %s: %w", g.DocumentID, domain.ErrDocumentDeleted)
	}
	inForce, err := e.grants.Put(ctx, g)
	if err != nil {
		return access.Grant{}, fmt.Errorf("put grant: %w", err)
	}
	return inForce, nil
}

// Revoke records a None-level grant for grantee, overriding earlier grants
// of the same scope.
func (e *Evaluator) Revoke(ctx context.Context, documentID string, grantee access.Grantee, by string) (access.Grant, error) {
	return e.Grant(ctx, access.Grant{
		DocumentID: documentID,
		Grantee:    grantee,
		Level:      access.None,
		GrantedBy:  by,
	})
}

// Grants returns the record in force per grantee, including the creator's
// implicit manage grant unless a later record replaced it.
func (e *Evaluator) Grants(ctx context.Context, documentID string) ([]access.Grant, error) {
	doc, err := e.docs.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	all, err := e.grantSet(ctx, &doc)
	if err != nil {
		return nil, err
	}
	return access.Latest(all), nil
}

// grantSet returns the stored grants of doc preceded by the creator grant.
func (e *Evaluator) grantSet(ctx context.Context, doc *domdoc.Document) ([]access.Grant, error) {
	stored, err := e.grants.List(ctx, doc.ID())
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	all := make([]access.Grant, 0, len(stored)+1)
	all = append(all, access.CreatorGrant(doc.ID(), doc.CreatedBy(), doc.CreatedAt()))
	return append(all, stored...), nil
}

// Visibility computes the set of users and roles that may view the document
// right now. The search index caches it as a pre-filter.
func (e *Evaluator) Visibility(ctx context.Context, documentID string) (access.Closure, error) {
	doc, err := e.docs.GetDocument(ctx, documentID)
	if err != nil {
		return access.Closure{}, err
	}
	grants, err := e.grantSet(ctx, &doc)
	if err != nil {
		return access.Closure{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	policy, err := e.dir.RFPDefaultPolicy(ctx, doc.RFPID())
	if err != nil {
		return access.Closure{}, domain.NewEvaluationError("rfp default policy", err)
	}
	return access.VisibilityClosure(grants, policy, e.now()), nil
}

// Subject resolves the roles of principal.
func (e *Evaluator) Subject(ctx context.Context, principal string) (access.Subject, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	roles, err := e.dir.ResolveRoles(ctx, principal)
	if err != nil {
		return access.Subject{}, domain.NewEvaluationError("resolve roles", err)
	}
	return access.Subject{Principal: principal, Roles: roles}, nil
}
