package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"guildrelay/internal/state"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock { return &fakeClock{now: time.UnixMilli(1_700_000_000_000)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// brokenStore fails every call.
type brokenStore struct{}

var errBroken = errors.New("store down")

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errBroken }
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errBroken
}
func (brokenStore) Add(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, errBroken
}
func (brokenStore) Delete(context.Context, string) error  { return errBroken }
func (brokenStore) Sweep(context.Context) (int, error)     { return 0, errBroken }
func (brokenStore) Close() error                           { return nil }

func TestDedupWindow(t *testing.T) {
	t.Parallel()
	clk := newClock()
	g := NewDedupGuard(state.NewMemory(state.WithClock(clk.Now)), 0, nopLog())
	ctx := context.Background()
	fp := NewFingerprint(PlatformGame, "Bob", "hi")

	if g.IsRecent(ctx, fp) {
		t.Fatal("first sighting reported as recent")
	}
	clk.Advance(DefaultMessageTTL - time.Millisecond)
	if !g.IsRecent(ctx, fp) {
		t.Fatal("repeat inside window not suppressed")
	}
	// The repeat must not re-time the entry.
	clk.Advance(time.Millisecond)
	if g.IsRecent(ctx, fp) {
		t.Fatal("entry outlived its ttl")
	}

	other := NewFingerprint(PlatformGroup, "Bob", "hi")
	if g.IsRecent(ctx, other) {
		t.Fatal("fingerprints from different platforms collided")
	}
}

func TestDedupFailsOpen(t *testing.T) {
	t.Parallel()
	g := NewDedupGuard(brokenStore{}, time.Second, nopLog())
	fp := NewFingerprint(PlatformGame, "a", "b")
	for i := 0; i < 3; i++ {
		if g.IsRecent(context.Background(), fp) {
			t.Fatal("broken store should never suppress")
		}
	}
}

func TestRateLimiterWindowAndCooldown(t *testing.T) {
	t.Parallel()
	clk := newClock()
	store := state.NewMemory(state.WithClock(clk.Now))
	l := NewRateLimiter(store, RateLimitConfig{MaxMessages: 5, TimeWindow: 3 * time.Second, Cooldown: 10 * time.Second}, clk.Now, nopLog())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if !l.Allow(ctx, "alice") {
			t.Fatalf("message %d rejected", i)
		}
		clk.Advance(100 * time.Millisecond)
	}
	if l.Allow(ctx, "alice") {
		t.Fatal("sixth message inside window allowed")
	}
	if !l.Allow(ctx, "bob") {
		t.Fatal("limit leaked across senders")
	}

	// Still cooling down even though the window has rolled over.
	clk.Advance(5 * time.Second)
	if l.Allow(ctx, "alice") {
		t.Fatal("allowed during cooldown")
	}

	clk.Advance(5 * time.Second)
	if !l.Allow(ctx, "alice") {
		t.Fatal("rejected after cooldown elapsed")
	}
}

func TestRateLimiterWindowResets(t *testing.T) {
	t.Parallel()
	clk := newClock()
	l := NewRateLimiter(state.NewMemory(state.WithClock(clk.Now)), RateLimitConfig{MaxMessages: 2, TimeWindow: time.Second}, clk.Now, nopLog())
	ctx := context.Background()

	for round := 0; round < 3; round++ {
		for i := 0; i < 2; i++ {
			if !l.Allow(ctx, "s") {
				t.Fatalf("round %d message %d rejected", round, i)
			}
		}
		clk.Advance(1100 * time.Millisecond)
	}
}

func TestRateLimiterReset(t *testing.T) {
	t.Parallel()
	clk := newClock()
	l := NewRateLimiter(state.NewMemory(state.WithClock(clk.Now)), RateLimitConfig{MaxMessages: 1}, clk.Now, nopLog())
	ctx := context.Background()

	_ = l.Allow(ctx, "s")
	if l.Allow(ctx, "s") {
		t.Fatal("second message allowed with max 1")
	}
	if err := l.Reset(ctx, "s"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !l.Allow(ctx, "s") {
		t.Fatal("rejected after Reset")
	}
}

func TestRateLimiterFailsOpen(t *testing.T) {
	t.Parallel()
	l := NewRateLimiter(brokenStore{}, RateLimitConfig{MaxMessages: 1}, nil, nopLog())
	for i := 0; i < 5; i++ {
		if !l.Allow(context.Background(), "s") {
			t.Fatal("broken store should never reject")
		}
	}
}

func TestRateLimiterStateExpiresFromStore(t *testing.T) {
	t.Parallel()
	clk := newClock()
	store := state.NewMemory(state.WithClock(clk.Now))
	l := NewRateLimiter(store, RateLimitConfig{MaxMessages: 5, TimeWindow: time.Second, Cooldown: time.Second}, clk.Now, nopLog())

	for i := 0; i < 6; i++ {
		_ = l.Allow(context.Background(), "churn")
	}
	clk.Advance(3 * time.Second)
	n, err := store.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 2 || store.Len() != 0 {
		t.Fatalf("swept %d, left %d; want 2 and 0", n, store.Len())
	}
}
