package ratelimit

import (
	"testing"
	"time"
)

func TestAllow_BurstPerClient(t *testing.T) {
	l := NewLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Error("request beyond burst should be rejected")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("other clients have their own bucket")
	}
}

func TestTokens(t *testing.T) {
	l := NewLimiter(60, 5)
	l.Allow("a")
	if got := l.Tokens("a"); got < 3.9 || got > 4.1 {
		t.Errorf("tokens = %v, want about 4", got)
	}
}

func TestEvict(t *testing.T) {
	l := NewLimiter(60, 5)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(2 * time.Hour)
	l.Allow("fresh")

	if n := l.Evict(); n != 1 {
		t.Errorf("evicted %d, want 1", n)
	}
	if _, ok := l.limiters["fresh"]; !ok {
		t.Error("recent client evicted")
	}
}
