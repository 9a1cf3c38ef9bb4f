package rate

import (
	"testing"
	"time"
)

func TestPoliciesFallBackToDefault(t *testing.T) {
	p := Policies{
		Default: Policy{Limit: 10, Window: time.Minute},
		Scopes:  map[string]Policy{"verify-otp": {Limit: 3, Window: 5 * time.Minute}},
	}
	if got := p.For("verify-otp"); got.Limit != 3 || got.Window != 5*time.Minute {
		t.Fatalf("unexpected scoped policy %+v", got)
	}
	if got := p.For("login"); got.Limit != 10 {
		t.Fatalf("expected default policy, got %+v", got)
	}
}

func TestDecide(t *testing.T) {
	policy := Policy{Limit: 2, Window: time.Minute}

	d := decide(policy, 1, 30*time.Second)
	if !d.Allowed || d.Remaining != 1 {
		t.Fatalf("unexpected first decision %+v", d)
	}
	d = decide(policy, 2, 30*time.Second)
	if !d.Allowed || d.Remaining != 0 {
		t.Fatalf("expected last allowed call, got %+v", d)
	}
	d = decide(policy, 3, -time.Second)
	if d.Allowed || d.Remaining != 0 || d.RetryAfter != 0 {
		t.Fatalf("expected rejection with clamped values, got %+v", d)
	}
}
