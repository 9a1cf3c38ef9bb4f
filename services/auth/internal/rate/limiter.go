package rate

import (
	"context"
	"time"
)

// Policy bounds how many calls one client may make to a scope per window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Policies maps a scope (one auth route) to its policy. Scopes without an
// entry use Default.
type Policies struct {
	Default Policy
	Scopes  map[string]Policy
}

func (p Policies) For(scope string) Policy {
	if policy, ok := p.Scopes[scope]; ok {
		return policy
	}
	return p.Default
}

// Uniform applies the same policy to every scope.
func Uniform(limit int, window time.Duration) Policies {
	return Policies{Default: Policy{Limit: limit, Window: window}}
}

type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is the time until the current window closes.
	RetryAfter time.Duration
}

// Limiter counts calls per scope and client in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, scope, client string, now time.Time) (Decision, error)
}

var (
	_ Limiter = (*MemoryLimiter)(nil)
	_ Limiter = (*RedisLimiter)(nil)
)

func counterKey(scope, client string) string {
	return scope + ":" + client
}

func decide(policy Policy, count int, retryAfter time.Duration) Decision {
	if retryAfter < 0 {
		retryAfter = 0
	}
	remaining := policy.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: count <= policy.Limit, Remaining: remaining, RetryAfter: retryAfter}
}
