package identity

import (
	"context"

	"github.com/rfpdesk/docvault/internal/domain/access"
)

// Static is a fixed directory loaded from configuration.
type Static struct {
	roles    map[string][]string
	policies map[string]access.Policy
}

// NewStatic creates a directory from principal roles and RFP policies.
func NewStatic(roles map[string][]string, policies map[string]access.Policy) *Static {
	if roles == nil {
		roles = map[string][]string{}
	}
	if policies == nil {
		policies = map[string]access.Policy{}
	}
	return &Static{roles: roles, policies: policies}
}

// ResolveRoles returns the configured roles of principal.
func (s *Static) ResolveRoles(ctx context.Context, principal string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]string(nil), s.roles[principal]...), nil
}

// RFPDefaultPolicy returns the configured policy of rfpID.
func (s *Static) RFPDefaultPolicy(ctx context.Context, rfpID string) (access.Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(access.Policy, len(s.policies[rfpID]))
	for r, l := range s.policies[rfpID] {
		out[r] = l
	}
	return out, nil
}

// Ping always succeeds.
func (s *Static) Ping(context.Context) error { return nil }
