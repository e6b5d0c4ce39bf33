package state

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logx "guildrelay/pkg/logx"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

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

func openDrivers(t *testing.T, clk *fakeClock) map[string]Store {
	t.Helper()
	mem, err := Open(Config{Driver: "memory"}, logx.Nop(), WithClock(clk.Now))
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "state.db")}, logx.Nop(), WithClock(clk.Now))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = mem.Close()
		_ = sq.Close()
	})
	return map[string]Store{"memory": mem, "sqlite": sq}
}

func TestStoreTTLSemantics(t *testing.T) {
	clk := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	ctx := context.Background()

	for name, st := range openDrivers(t, clk) {
		t.Run(name, func(t *testing.T) {
			if err := st.Set(ctx, "k", []byte("v1"), time.Second); err != nil {
				t.Fatalf("Set: %v", err)
			}
			v, ok, err := st.Get(ctx, "k")
			if err != nil || !ok || string(v) != "v1" {
				t.Fatalf("Get = %q, %v, %v; want v1, true, nil", v, ok, err)
			}

			added, err := st.Add(ctx, "k", []byte("v2"), time.Second)
			if err != nil || added {
				t.Fatalf("Add on live key = %v, %v; want false, nil", added, err)
			}

			clk.Advance(time.Second)
			if _, ok, _ := st.Get(ctx, "k"); ok {
				t.Fatal("entry should be expired at exactly ttl")
			}
			added, err = st.Add(ctx, "k", []byte("v3"), time.Second)
			if err != nil || !added {
				t.Fatalf("Add on expired key = %v, %v; want true, nil", added, err)
			}
			v, _, _ = st.Get(ctx, "k")
			if string(v) != "v3" {
				t.Fatalf("value = %q, want v3", v)
			}

			if err := st.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, _ := st.Get(ctx, "k"); ok {
				t.Fatal("deleted key still present")
			}
		})
	}
}

func TestStoreSweep(t *testing.T) {
	clk := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	ctx := context.Background()

	for name, st := range openDrivers(t, clk) {
		t.Run(name, func(t *testing.T) {
			_ = st.Set(ctx, "short", []byte("x"), time.Second)
			_ = st.Set(ctx, "long", []byte("x"), time.Hour)
			_ = st.Set(ctx, "forever", []byte("x"), 0)

			clk.Advance(2 * time.Second)
			removed, err := st.Sweep(ctx)
			if err != nil {
				t.Fatalf("Sweep: %v", err)
			}
			if removed != 1 {
				t.Fatalf("removed = %d, want 1", removed)
			}
			for _, k := range []string{"long", "forever"} {
				if _, ok, _ := st.Get(ctx, k); !ok {
					t.Fatalf("%s should survive sweep", k)
				}
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	if !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("err = %v, want ErrUnknownDriver", err)
	}
}

func TestMemoryClosed(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	_ = m.Close()
	if _, _, err := m.Get(context.Background(), "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
