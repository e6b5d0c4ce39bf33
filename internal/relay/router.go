package relay

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"guildrelay/internal/eventbus"
	kit "guildrelay/internal/transport"
	logx "guildrelay/pkg/logx"
)

// guildChatRe matches the server's guild-chat envelope. The sender capture
// is non-greedy so a colon inside the text stays in the text.
var guildChatRe = regexp.MustCompile(`^Guild > (.*?): (.*)`)

const (
	// DefaultGameLineLength is the longest chat line the game server accepts.
	DefaultGameLineLength = 256
	// DefaultRateLimitNotice is replied to group users who hit the limiter.
	DefaultRateLimitNotice = "You're sending messages too fast. Please wait a moment before sending more."

	maxSenderNameLength = 32
)

// Config holds the router tunables. Zero values fall back to defaults.
type Config struct {
	// BotUsername is the relay account's own in-game name.
	BotUsername string
	// BridgeChannelID is the only group channel that is relayed.
	BridgeChannelID string

	MaxMessageLength  int
	MaxGameLineLength int
	FallbackSender    string
	RateLimitNotice   string
	SendTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = DefaultMaxMessageLength
	}
	if c.MaxGameLineLength <= 0 {
		c.MaxGameLineLength = DefaultGameLineLength
	}
	if strings.TrimSpace(c.FallbackSender) == "" {
		c.FallbackSender = DefaultFallbackSender
	}
	if strings.TrimSpace(c.RateLimitNotice) == "" {
		c.RateLimitNotice = DefaultRateLimitNotice
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// GameSender is the outbound half of the game adapter.
type GameSender interface {
	SendChat(ctx context.Context, text string) error
}

// GroupSender is the outbound half of the group adapter.
type GroupSender interface {
	Send(ctx context.Context, channelID, text string) error
	Reply(ctx context.Context, to kit.GroupMessage, text string) error
}

// Deps are the collaborators a Router needs. Bus is optional.
type Deps struct {
	Game    GameSender
	Group   GroupSender
	Limiter *RateLimiter
	Dedup   *DedupGuard
	Bus     eventbus.Bus
	Logger  logx.Logger
	Now     func() time.Time
}

// Router runs the two relay pipelines. Each Handle call runs to completion
// before returning; the caller decides how events are serialized.
type Router struct {
	mu  sync.RWMutex
	cfg Config

	game    GameSender
	group   GroupSender
	limiter *RateLimiter
	dedup   *DedupGuard
	bus     eventbus.Bus
	log     logx.Logger
	now     func() time.Time
}

// NewRouter wires the pipelines. Nil Limiter, Dedup or Bus disables that stage.
func NewRouter(cfg Config, d Deps) *Router {
	log := d.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Router{
		cfg:     cfg.withDefaults(),
		game:    d.Game,
		group:   d.Group,
		limiter: d.Limiter,
		dedup:   d.Dedup,
		bus:     d.Bus,
		log:     log,
		now:     now,
	}
}

// Apply swaps the router config (hot reload).
func (r *Router) Apply(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg.withDefaults()
	r.mu.Unlock()
}

func (r *Router) config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// ParseGuildChat extracts (sender, text) from a guild-chat line.
// ok is false for any other kind of line (officer chat, whispers, notices).
func ParseGuildChat(line string) (sender, text string, ok bool) {
	m := guildChatRe.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// HandleGameChat relays one game chat line to the bridge channel:
// self filter, envelope match, rate limit, sanitize, dedup, send.
// Every rejection on this side is silent.
func (r *Router) HandleGameChat(ctx context.Context, in kit.GameChat) Outcome {
	cfg := r.config()
	log := r.log.With(logx.String("dir", string(GameToGroup)))

	if in.Username != "" && cfg.BotUsername != "" && strings.EqualFold(in.Username, cfg.BotUsername) {
		return r.finish(log, GameToGroup, OutcomeSelf, in.Username, nil)
	}

	rawSender, rawText, ok := ParseGuildChat(in.Message)
	if !ok {
		return r.finish(log, GameToGroup, OutcomeNotGuild, "", nil)
	}
	ev := ChatEvent{Source: PlatformGame, Sender: rawSender, RawText: rawText, ReceivedAt: r.receivedAt(in.ReceivedAt)}

	if isOwnGuildLine(ev.Sender, cfg.BotUsername) {
		return r.finish(log, GameToGroup, OutcomeSelf, ev.Sender, nil)
	}

	if r.limiter != nil && !r.limiter.Allow(ctx, string(PlatformGame)+":"+ev.Sender) {
		return r.finish(log, GameToGroup, OutcomeRateLimited, ev.Sender, nil)
	}

	sender := SanitizeMessage(ev.Sender, cfg.MaxMessageLength)
	text := SanitizeMessage(ev.RawText, cfg.MaxMessageLength)
	if sender == "" || text == "" {
		return r.finish(log, GameToGroup, OutcomeEmpty, sender, nil)
	}

	if r.dedup != nil && r.dedup.IsRecent(ctx, NewFingerprint(PlatformGame, sender, text)) {
		return r.finish(log, GameToGroup, OutcomeDuplicate, sender, nil)
	}

	if r.group == nil {
		return r.finish(log, GameToGroup, OutcomeSendFailed, sender, kit.ErrNotRunning)
	}
	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	if err := r.group.Send(sctx, cfg.BridgeChannelID, FormatGroupLine(sender, text)); err != nil {
		return r.finish(log, GameToGroup, OutcomeSendFailed, sender, err)
	}
	return r.finish(log, GameToGroup, OutcomeForwarded, sender, nil)
}

// HandleGroupMessage relays one group message into guild chat:
// bot/channel filter, rate limit (by stable author id), sanitize and
// escape, dedup, send. Only rate-limit rejections are answered.
func (r *Router) HandleGroupMessage(ctx context.Context, in kit.GroupMessage) Outcome {
	cfg := r.config()
	log := r.log.With(logx.String("dir", string(GroupToGame)))

	if in.AuthorIsBot || in.ChannelID != cfg.BridgeChannelID {
		return r.finish(log, GroupToGame, OutcomeFiltered, in.AuthorID, nil)
	}
	ev := ChatEvent{Source: PlatformGroup, Sender: in.AuthorUsername, RawText: in.Content, ReceivedAt: r.receivedAt(in.ReceivedAt)}

	if r.limiter != nil && !r.limiter.Allow(ctx, string(PlatformGroup)+":"+in.AuthorID) {
		if r.group != nil {
			sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
			err := r.group.Reply(sctx, in, cfg.RateLimitNotice)
			cancel()
			if err != nil {
				log.Error("rate limit notice failed", logx.String("author_id", in.AuthorID), logx.Err(err))
			}
		}
		return r.finish(log, GroupToGame, OutcomeRateLimited, in.AuthorID, nil)
	}

	name := senderName(ev.Sender, cfg.FallbackSender)
	text := SanitizeMessage(ev.RawText, cfg.MaxMessageLength)
	text = fitGameLine(name, text, cfg.MaxGameLineLength)
	if text == "" {
		return r.finish(log, GroupToGame, OutcomeEmpty, name, nil)
	}

	if r.dedup != nil && r.dedup.IsRecent(ctx, NewFingerprint(PlatformGroup, name, text)) {
		return r.finish(log, GroupToGame, OutcomeDuplicate, name, nil)
	}

	if r.game == nil {
		return r.finish(log, GroupToGame, OutcomeSendFailed, name, kit.ErrNotRunning)
	}
	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	if err := r.game.SendChat(sctx, FormatGameLine(name, text)); err != nil {
		return r.finish(log, GroupToGame, OutcomeSendFailed, name, err)
	}
	return r.finish(log, GroupToGame, OutcomeForwarded, name, nil)
}

// FormatGroupLine renders a game message for the group channel.
func FormatGroupLine(sender, text string) string {
	return "**[" + sender + "]** " + text
}

// FormatGameLine renders a group message as a guild-chat command.
func FormatGameLine(sender, text string) string {
	return "/gc [" + sender + "] " + text
}

// senderName bounds the raw display name before escaping, so a cut in the
// middle of a word cannot leave a reserved keyword standing in the result.
func senderName(raw, fallback string) string {
	return EscapeSenderName(SanitizeMessage(raw, maxSenderNameLength), fallback)
}

// fitGameLine shortens text so the composed /gc line fits the server limit.
func fitGameLine(sender, text string, maxLine int) string {
	budget := maxLine - utf8.RuneCountInString(FormatGameLine(sender, ""))
	if budget <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= budget {
		return text
	}
	return SanitizeMessage(text, budget)
}

// isOwnGuildLine reports whether a guild-chat sender is the relay account.
// The server decorates names with rank tags ("[MVP+] Name [Officer]"), so
// any token matching the bot name counts.
func isOwnGuildLine(sender, botUsername string) bool {
	if botUsername == "" {
		return false
	}
	for _, tok := range strings.Fields(sender) {
		if strings.EqualFold(tok, botUsername) {
			return true
		}
	}
	return false
}

func (r *Router) receivedAt(t time.Time) time.Time {
	if t.IsZero() {
		return r.now()
	}
	return t
}

func (r *Router) finish(log logx.Logger, dir Direction, out Outcome, sender string, err error) Outcome {
	switch {
	case out == OutcomeSendFailed:
		log.Error("relay delivery failed", logx.String("sender", sender), logx.Err(err))
	case out == OutcomeForwarded:
		log.Info("relayed", logx.String("sender", sender))
	default:
		log.Debug("relay dropped", logx.String("outcome", string(out)), logx.String("sender", sender))
	}

	if r.bus != nil {
		e := Event{Direction: dir, Outcome: out, Sender: sender, At: r.now()}
		if err != nil {
			e.Error = err.Error()
		}
		r.bus.Publish(eventbus.Event{Type: EventPrefix + string(out), Time: e.At, Data: e})
	}
	return out
}
