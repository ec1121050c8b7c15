package overlay

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToMax(t *testing.T) {
	r := NewRateLimiter(10*time.Second, 5)
	now := time.Now()
	r.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		if !r.Allow("peer-1") {
			t.Fatalf("attempt %d denied, want allowed (under the cap of 5)", i+1)
		}
	}
	if r.Allow("peer-1") {
		t.Fatal("6th attempt within the window allowed, want denied")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	r := NewRateLimiter(10*time.Second, 5)
	now := time.Now()
	r.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		r.Allow("peer-1")
	}
	if r.Allow("peer-1") {
		t.Fatal("6th attempt allowed before any entry aged out")
	}

	// Advance past the window: all five attempts share one timestamp, so
	// they all age out together.
	now = now.Add(11 * time.Second)
	if !r.Allow("peer-1") {
		t.Fatal("attempt denied after the full window elapsed, want allowed")
	}
}

func TestRateLimiterPerPeerIsolation(t *testing.T) {
	r := NewRateLimiter(10*time.Second, 1)
	now := time.Now()
	r.now = func() time.Time { return now }

	if !r.Allow("peer-1") {
		t.Fatal("first attempt for peer-1 denied")
	}
	if !r.Allow("peer-2") {
		t.Fatal("first attempt for peer-2 denied by peer-1's usage")
	}
	if r.Allow("peer-1") {
		t.Fatal("second attempt for peer-1 allowed, want denied at cap 1")
	}
}

func TestRateLimiterSweepDropsExpiredPeers(t *testing.T) {
	r := NewRateLimiter(10*time.Second, 5)
	now := time.Now()
	r.now = func() time.Time { return now }

	r.Allow("peer-1")
	now = now.Add(11 * time.Second)
	r.now = func() time.Time { return now }
	r.Sweep()

	if _, tracked := r.attempts["peer-1"]; tracked {
		t.Error("peer-1 still tracked after Sweep with all its attempts expired")
	}
}
