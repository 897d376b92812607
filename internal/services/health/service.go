package health

import (
	"context"
	"sort"
	"time"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// Service encapsulates health-related checks.
type Service struct {
	checks  map[string]Check
	timeout time.Duration
}

// NewService constructs a health service over the named checks.
func NewService(checks map[string]Check) *Service {
	cp := make(map[string]Check, len(checks))
	for name, check := range checks {
		if check != nil {
			cp[name] = check
		}
	}
	return &Service{checks: cp, timeout: 2 * time.Second}
}

// Status runs every check and reports whether all passed.
func (s *Service) Status(ctx context.Context) (map[string]any, bool) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ok := true
	deps := make(map[string]string, len(names))
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.checks[name](checkCtx)
		cancel()
		if err != nil {
			ok = false
			deps[name] = err.Error()
			continue
		}
		deps[name] = "ok"
	}
	out := map[string]any{"ok": ok}
	if len(deps) > 0 {
		out["dependencies"] = deps
	}
	return out, ok
}
