package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"guildrelay/internal/eventbus"
	"guildrelay/internal/state"
	kit "guildrelay/internal/transport"
	logx "guildrelay/pkg/logx"
)

func nopLog() logx.Logger { return logx.Nop() }

type sent struct {
	channelID string
	replyTo   string
	text      string
}

type recorder struct {
	mu      sync.Mutex
	game    []string
	group   []sent
	sendErr error
}

func (r *recorder) SendChat(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.game = append(r.game, text)
	return nil
}

func (r *recorder) Send(_ context.Context, channelID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.group = append(r.group, sent{channelID: channelID, text: text})
	return nil
}

func (r *recorder) Reply(_ context.Context, to kit.GroupMessage, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.group = append(r.group, sent{channelID: to.ChannelID, replyTo: to.ID, text: text})
	return nil
}

const (
	testBot     = "RelayBot"
	testChannel = "chan-1"
)

type harness struct {
	clk    *fakeClock
	rec    *recorder
	router *Router
	bus    eventbus.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := newClock()
	store := state.NewMemory(state.WithClock(clk.Now))
	t.Cleanup(func() { _ = store.Close() })
	rec := &recorder{}
	bus := eventbus.New()
	r := NewRouter(Config{BotUsername: testBot, BridgeChannelID: testChannel}, Deps{
		Game:    rec,
		Group:   rec,
		Limiter: NewRateLimiter(store, RateLimitConfig{}, clk.Now, nopLog()),
		Dedup:   NewDedupGuard(store, 0, nopLog()),
		Bus:     bus,
		Now:     clk.Now,
	})
	return &harness{clk: clk, rec: rec, router: r, bus: bus}
}

func groupMsg(id, author, name, content string) kit.GroupMessage {
	return kit.GroupMessage{ID: id, ChannelID: testChannel, AuthorID: author, AuthorUsername: name, Content: content}
}

func TestParseGuildChat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		line   string
		sender string
		text   string
		ok     bool
	}{
		{line: "Guild > Bob: hello world", sender: "Bob", text: "hello world", ok: true},
		{line: "Guild > [MVP+] Bob [Officer]: a: b", sender: "[MVP+] Bob [Officer]", text: "a: b", ok: true},
		{line: "Guild > Bob: ", sender: "Bob", text: "", ok: true},
		{line: "Officer > Bob: secret", ok: false},
		{line: "<Bob> hello", ok: false},
		{line: "xGuild > Bob: hi", ok: false},
	}
	for _, tt := range tests {
		sender, text, ok := ParseGuildChat(tt.line)
		if ok != tt.ok || sender != tt.sender || text != tt.text {
			t.Fatalf("ParseGuildChat(%q) = %q, %q, %v; want %q, %q, %v", tt.line, sender, text, ok, tt.sender, tt.text, tt.ok)
		}
	}
}

func TestGameToGroupForwards(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	got := h.router.HandleGameChat(context.Background(), kit.GameChat{Message: "Guild > Bob: hello world"})
	if got != OutcomeForwarded {
		t.Fatalf("outcome = %s, want forwarded", got)
	}
	if len(h.rec.group) != 1 || h.rec.group[0] != (sent{channelID: testChannel, text: "**[Bob]** hello world"}) {
		t.Fatalf("group sends = %+v", h.rec.group)
	}
}

func TestGameToGroupDrops(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   kit.GameChat
		want Outcome
	}{
		{name: "own vanilla chat", in: kit.GameChat{Username: "relaybot", Message: "Guild > x: y"}, want: OutcomeSelf},
		{name: "own guild echo", in: kit.GameChat{Message: "Guild > [VIP] RelayBot: [Alice] hi"}, want: OutcomeSelf},
		{name: "not guild", in: kit.GameChat{Message: "Party > Bob: hi"}, want: OutcomeNotGuild},
		{name: "empty text", in: kit.GameChat{Message: "Guild > Bob: \x01 "}, want: OutcomeEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			if got := h.router.HandleGameChat(context.Background(), tt.in); got != tt.want {
				t.Fatalf("outcome = %s, want %s", got, tt.want)
			}
			if len(h.rec.group) != 0 {
				t.Fatalf("unexpected sends: %+v", h.rec.group)
			}
		})
	}
}

func TestGameToGroupDuplicateWithinTTL(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	line := kit.GameChat{Message: "Guild > Bob: hello"}

	if got := h.router.HandleGameChat(ctx, line); got != OutcomeForwarded {
		t.Fatalf("first = %s", got)
	}
	h.clk.Advance(4 * time.Second)
	if got := h.router.HandleGameChat(ctx, line); got != OutcomeDuplicate {
		t.Fatalf("second = %s, want duplicate", got)
	}
	h.clk.Advance(2 * time.Second)
	if got := h.router.HandleGameChat(ctx, line); got != OutcomeForwarded {
		t.Fatalf("third = %s, want forwarded after ttl", got)
	}
	if len(h.rec.group) != 2 {
		t.Fatalf("sends = %d, want 2", len(h.rec.group))
	}
}

func TestGameToGroupRateLimitIsSilent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		h.router.HandleGameChat(ctx, kit.GameChat{Message: "Guild > Spam: msg " + string(rune('a'+i))})
	}
	if len(h.rec.group) != 5 {
		t.Fatalf("sends = %d, want 5", len(h.rec.group))
	}
	for _, s := range h.rec.group {
		if s.replyTo != "" {
			t.Fatalf("game side must not get notices: %+v", s)
		}
	}
}

func TestGroupToGameEscapesSender(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	got := h.router.HandleGroupMessage(context.Background(), groupMsg("m1", "u1", "/admin", "/help me"))
	if got != OutcomeForwarded {
		t.Fatalf("outcome = %s", got)
	}
	if len(h.rec.game) != 1 || h.rec.game[0] != "/gc [admin] /help me" {
		t.Fatalf("game sends = %q", h.rec.game)
	}
}

func TestGroupToGameLongNamesStayEscaped(t *testing.T) {
	t.Parallel()
	names := []string{
		strings.Repeat("a", 27) + " pqrst",
		strings.Repeat("b", 28) + " rx",
		strings.Repeat("c", 26) + " wwwww tell",
		"gc " + strings.Repeat("d", 40) + " w",
		strings.Repeat("/", 40) + "me",
	}
	for i, name := range names {
		h := newHarness(t)
		if got := h.router.HandleGroupMessage(context.Background(), groupMsg("m1", "u1", name, "hi")); got != OutcomeForwarded {
			t.Fatalf("name %d: outcome = %s", i, got)
		}
		line := h.rec.game[0]
		if !strings.HasPrefix(line, "/gc [") || !strings.HasSuffix(line, "] hi") {
			t.Fatalf("name %d: line = %q", i, line)
		}
		sender := strings.TrimSuffix(strings.TrimPrefix(line, "/gc ["), "] hi")
		if reservedCommandRe.MatchString(sender) {
			t.Fatalf("name %d: sender %q keeps a reserved keyword", i, sender)
		}
		if n := len([]rune(sender)); n > maxSenderNameLength {
			t.Fatalf("name %d: sender %q has %d runes", i, sender, n)
		}
	}
}

func TestGroupToGameFilters(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	bot := groupMsg("m1", "b1", "Bot", "beep")
	bot.AuthorIsBot = true
	if got := h.router.HandleGroupMessage(ctx, bot); got != OutcomeFiltered {
		t.Fatalf("bot author = %s", got)
	}
	elsewhere := groupMsg("m2", "u1", "Alice", "hi")
	elsewhere.ChannelID = "other"
	if got := h.router.HandleGroupMessage(ctx, elsewhere); got != OutcomeFiltered {
		t.Fatalf("other channel = %s", got)
	}
	if got := h.router.HandleGroupMessage(ctx, groupMsg("m3", "u1", "Alice", " \x02 ")); got != OutcomeEmpty {
		t.Fatalf("blank content = %s", got)
	}
	if len(h.rec.game) != 0 || len(h.rec.group) != 0 {
		t.Fatalf("unexpected sends: %q %+v", h.rec.game, h.rec.group)
	}
}

func TestGroupToGameRateLimitNotices(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	var outcomes []Outcome
	for i := 0; i < 7; i++ {
		// Changing display name must not dodge the limiter.
		name := "Alice" + strings.Repeat("_", i)
		outcomes = append(outcomes, h.router.HandleGroupMessage(ctx, groupMsg("m"+string(rune('0'+i)), "u1", name, "msg "+string(rune('a'+i)))))
		h.clk.Advance(200 * time.Millisecond)
	}

	for i, o := range outcomes {
		want := OutcomeForwarded
		if i >= 5 {
			want = OutcomeRateLimited
		}
		if o != want {
			t.Fatalf("message %d = %s, want %s", i+1, o, want)
		}
	}
	if len(h.rec.game) != 5 {
		t.Fatalf("game sends = %d, want 5", len(h.rec.game))
	}
	if len(h.rec.group) != 2 {
		t.Fatalf("notices = %d, want 2", len(h.rec.group))
	}
	for i, n := range h.rec.group {
		if n.text != DefaultRateLimitNotice || n.replyTo != "m"+string(rune('5'+i)) {
			t.Fatalf("notice %d = %+v", i, n)
		}
	}
}

func TestGroupToGameFitsLine(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.router.Apply(Config{BotUsername: testBot, BridgeChannelID: testChannel, MaxGameLineLength: 32})

	h.router.HandleGroupMessage(context.Background(), groupMsg("m1", "u1", "Al", strings.Repeat("x", 100)))
	if len(h.rec.game) != 1 {
		t.Fatalf("game sends = %d", len(h.rec.game))
	}
	line := h.rec.game[0]
	if len([]rune(line)) != 32 || !strings.HasPrefix(line, "/gc [Al] ") || !strings.HasSuffix(line, "...") {
		t.Fatalf("line = %q", line)
	}
}

func TestSendFailurePublishesEvent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.rec.sendErr = errors.New("socket closed")
	events, unsub := h.bus.Subscribe(4)
	defer unsub()

	if got := h.router.HandleGameChat(context.Background(), kit.GameChat{Message: "Guild > Bob: hi"}); got != OutcomeSendFailed {
		t.Fatalf("outcome = %s", got)
	}
	select {
	case e := <-events:
		if e.Type != EventPrefix+string(OutcomeSendFailed) {
			t.Fatalf("event type = %s", e.Type)
		}
		re, ok := e.Data.(Event)
		if !ok || re.Direction != GameToGroup || re.Error != "socket closed" {
			t.Fatalf("event data = %+v", e.Data)
		}
	default:
		t.Fatal("no event published")
	}
}
