package rate

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterWindow(t *testing.T) {
	lim := NewMemory(Uniform(2, time.Second))
	ctx := context.Background()
	now := time.Now()

	for i := 1; i <= 2; i++ {
		d, err := lim.Allow(ctx, "login", "10.0.0.1", now)
		if err != nil || !d.Allowed {
			t.Fatalf("call %d: expected allow, got %+v %v", i, d, err)
		}
		if d.Remaining != 2-i {
			t.Fatalf("call %d: expected %d remaining, got %d", i, 2-i, d.Remaining)
		}
	}

	d, err := lim.Allow(ctx, "login", "10.0.0.1", now.Add(200*time.Millisecond))
	if err != nil || d.Allowed {
		t.Fatalf("expected third call limited, got %+v", d)
	}
	if d.RetryAfter != 800*time.Millisecond {
		t.Fatalf("expected 800ms until reset, got %s", d.RetryAfter)
	}

	d, _ = lim.Allow(ctx, "login", "10.0.0.1", now.Add(time.Second))
	if !d.Allowed {
		t.Fatalf("expected allow once the window closed")
	}
}

func TestMemoryLimiterScopesAndClientsAreIndependent(t *testing.T) {
	lim := NewMemory(Policies{
		Default: Policy{Limit: 5, Window: time.Minute},
		Scopes:  map[string]Policy{"resend-otp": {Limit: 1, Window: time.Minute}},
	})
	ctx := context.Background()
	now := time.Now()

	if d, _ := lim.Allow(ctx, "resend-otp", "10.0.0.1", now); !d.Allowed {
		t.Fatalf("expected first resend allowed")
	}
	if d, _ := lim.Allow(ctx, "resend-otp", "10.0.0.1", now); d.Allowed {
		t.Fatalf("expected second resend limited by its scope policy")
	}
	if d, _ := lim.Allow(ctx, "resend-otp", "10.0.0.2", now); !d.Allowed {
		t.Fatalf("expected another client unaffected")
	}
	if d, _ := lim.Allow(ctx, "login", "10.0.0.1", now); !d.Allowed || d.Remaining != 4 {
		t.Fatalf("expected login to use the default policy, got %+v", d)
	}
}

func TestMemoryLimiterSweepsClosedWindows(t *testing.T) {
	lim := NewMemory(Uniform(1, time.Second))
	ctx := context.Background()
	now := time.Now()

	lim.Allow(ctx, "login", "10.0.0.1", now)
	lim.Allow(ctx, "signup", "10.0.0.1", now)
	if len(lim.windows) != 2 {
		t.Fatalf("expected two open windows, got %d", len(lim.windows))
	}

	lim.Allow(ctx, "login", "10.0.0.2", now.Add(2*time.Second))
	if len(lim.windows) != 1 {
		t.Fatalf("expected closed windows swept, got %d", len(lim.windows))
	}
}
