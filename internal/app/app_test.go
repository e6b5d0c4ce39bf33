package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"guildrelay/internal/config"
	"guildrelay/internal/relay"
	kit "guildrelay/internal/transport"
)

type fakeGame struct {
	mu   sync.Mutex
	out  chan<- kit.GameChat
	sent []string
}

func (g *fakeGame) Start(_ context.Context, out chan<- kit.GameChat) error {
	g.mu.Lock()
	g.out = out
	g.mu.Unlock()
	return nil
}
func (g *fakeGame) Stop(context.Context) error { return nil }
func (g *fakeGame) Username() string           { return "RelayBot" }
func (g *fakeGame) SendChat(_ context.Context, text string) error {
	g.mu.Lock()
	g.sent = append(g.sent, text)
	g.mu.Unlock()
	return nil
}
func (g *fakeGame) lines() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.sent...)
}

type fakeGroup struct {
	mu   sync.Mutex
	out  chan<- kit.GroupMessage
	sent []string
}

func (g *fakeGroup) Start(_ context.Context, out chan<- kit.GroupMessage) error {
	g.mu.Lock()
	g.out = out
	g.mu.Unlock()
	return nil
}
func (g *fakeGroup) Stop(context.Context) error { return nil }
func (g *fakeGroup) Send(_ context.Context, channelID, text string) error {
	g.mu.Lock()
	g.sent = append(g.sent, channelID+"|"+text)
	g.mu.Unlock()
	return nil
}
func (g *fakeGroup) Reply(ctx context.Context, to kit.GroupMessage, text string) error {
	return g.Send(ctx, to.ChannelID, "reply:"+text)
}
func (g *fakeGroup) lines() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.sent...)
}

const testConfig = `{
  "game": {"driver": "tcp", "addr": "127.0.0.1:1", "username": "RelayBot"},
  "group": {"driver": "discord", "token": "x", "channel_id": "chan"},
  "relay": {"rate_limit": {"max_messages": 2}},
  "state": {"driver": "memory"},
  "logging": {"level": "error", "console": true}
}`

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAppRelaysBothWays(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(p, []byte(testConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	cfgm := config.NewManager(p, config.Env{})
	if _, err := cfgm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	g, grp := &fakeGame{}, &fakeGroup{}
	a, err := New(cfgm, config.Env{}, WithGameAdapter(g), WithGroupAdapter(grp))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(context.Background())

	g.out <- kit.GameChat{Message: "Guild > Bob: hello world"}
	waitFor(t, "group send", func() bool { return len(grp.lines()) == 1 })
	if got := grp.lines()[0]; got != "chan|**[Bob]** hello world" {
		t.Fatalf("group got %q", got)
	}

	for i, text := range []string{"one", "two", "three"} {
		grp.out <- kit.GroupMessage{ID: string(rune('a' + i)), ChannelID: "chan", AuthorID: "u1", AuthorUsername: "/admin", Content: text}
	}
	waitFor(t, "game sends and notice", func() bool { return len(g.lines()) == 2 && len(grp.lines()) == 2 })
	if got := g.lines(); got[0] != "/gc [admin] one" || got[1] != "/gc [admin] two" {
		t.Fatalf("game got %q", got)
	}
	if got := grp.lines()[1]; got != "chan|reply:"+relay.DefaultRateLimitNotice {
		t.Fatalf("notice = %q", got)
	}

	waitFor(t, "stats", func() bool {
		return a.Stats().Count(relay.GroupToGame, relay.OutcomeRateLimited) == 1 &&
			a.Stats().Count(relay.GameToGroup, relay.OutcomeForwarded) == 1
	})
}

func TestApplyConfigUpdatesLimiter(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(p, []byte(testConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	cfgm := config.NewManager(p, config.Env{})
	prev, err := cfgm.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a, err := New(cfgm, config.Env{}, WithGameAdapter(&fakeGame{}), WithGroupAdapter(&fakeGroup{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop(context.Background())

	next := *prev
	next.Relay.RateLimit = config.RateLimitConfig{MaxMessages: 9, TimeWindow: "1s", Cooldown: "2s"}
	next.Relay.Dedup.TTL = "1s"
	a.applyConfig(prev, &next)

	got := a.limiter.Config()
	if got.MaxMessages != 9 || got.TimeWindow != time.Second || got.Cooldown != 2*time.Second {
		t.Fatalf("limiter config = %+v", got)
	}
}
