package health

import (
	"context"
	"sort"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure. Reads from the ledger still work.
	Degraded Status = "degraded"
	// Unhealthy indicates the ledger itself is unreachable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
	// CheckLagging indicates the index holds parked documents.
	CheckLagging CheckResult = "lagging"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Components returns the checked component names in stable order.
func (r Report) Components() []string {
	names := make([]string, 0, len(r.Checks))
	for n := range r.Checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Service coordinates health checks.
type Service struct {
	db       Pinger
	objects  Pinger
	identity Pinger
	index    IndexBacklog
}

// New creates a Service. objects can be nil.
func New(db, objects Pinger) *Service {
	return &Service{db: db, objects: objects}
}

// WithIdentity adds a check of the identity service.
func (s *Service) WithIdentity(p Pinger) *Service {
	s.identity = p
	return s
}

// WithIndex adds a check of the index propagation backlog.
func (s *Service) WithIndex(b IndexBacklog) *Service {
	s.index = b
	return s
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := map[string]CheckResult{"database": ping(ctx, s.db)}
	if s.objects != nil {
		checks["object_storage"] = ping(ctx, s.objects)
	}
	if s.identity != nil {
		checks["identity"] = ping(ctx, s.identity)
	}
	if s.index != nil {
		checks["index"] = CheckOK
		if s.index.Parked() > 0 {
			checks["index"] = CheckLagging
		}
	}

	status := Healthy
	for _, v := range checks {
		if v != CheckOK {
			status = Degraded
			break
		}
	}
	if checks["database"] == CheckError {
		status = Unhealthy
	}
	return Report{Status: status, Checks: checks}
}

func ping(ctx context.Context, p Pinger) CheckResult {
	if err := p.Ping(ctx); err != nil {
		return CheckError
	}
	return CheckOK
}
