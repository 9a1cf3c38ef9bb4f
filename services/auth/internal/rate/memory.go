package rate

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps counters in process. It is meant for dev/test and
// single-replica deployments.
type MemoryLimiter struct {
	policies Policies

	mu      sync.Mutex
	windows map[string]*window
	sweepAt time.Time
}

type window struct {
	count    int
	closesAt time.Time
}

func NewMemory(policies Policies) *MemoryLimiter {
	return &MemoryLimiter{policies: policies, windows: map[string]*window{}}
}

func (l *MemoryLimiter) Allow(_ context.Context, scope, client string, now time.Time) (Decision, error) {
	policy := l.policies.For(scope)
	key := counterKey(scope, client)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	w, ok := l.windows[key]
	if !ok || !now.Before(w.closesAt) {
		w = &window{closesAt: now.Add(policy.Window)}
		l.windows[key] = w
	}
	w.count++
	return decide(policy, w.count, w.closesAt.Sub(now)), nil
}

// sweep drops closed windows at most once per default window.
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Before(l.sweepAt) {
		return
	}
	for key, w := range l.windows {
		if !now.Before(w.closesAt) {
			delete(l.windows, key)
		}
	}
	l.sweepAt = now.Add(l.policies.Default.Window)
}
