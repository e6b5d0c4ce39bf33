package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"guildrelay/internal/state"
	logx "guildrelay/pkg/logx"
)

// RateLimitConfig tunes the per-sender limiter.
//
// Defaults (when fields are zero): 5 messages per 3s window, 10s cooldown.
type RateLimitConfig struct {
	MaxMessages int
	TimeWindow  time.Duration
	Cooldown    time.Duration
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.MaxMessages <= 0 {
		c.MaxMessages = 5
	}
	if c.TimeWindow <= 0 {
		c.TimeWindow = 3 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 10 * time.Second
	}
	return c
}

// senderRateState counts messages in the sender's current window.
type senderRateState struct {
	Count       int   `json:"count"`
	WindowStart int64 `json:"window_start"` // unix nanos
}

type cooldownEntry struct {
	Until int64 `json:"until"` // unix nanos
}

const (
	rateKeyPrefix     = "rate:"
	cooldownKeyPrefix = "cooldown:"
)

// RateLimiter admits at most MaxMessages per sender per TimeWindow. The
// message that exceeds the limit is rejected and starts a Cooldown during
// which every message from that sender is rejected.
//
// The window is fixed per sender, not a sliding log: a burst straddling a
// window boundary can pass up to 2*MaxMessages-1 messages.
type RateLimiter struct {
	mu    sync.Mutex
	cfg   RateLimitConfig
	store state.Store
	now   func() time.Time
	log   logx.Logger
}

// NewRateLimiter keeps per-sender state in store. A nil now uses time.Now.
func NewRateLimiter(store state.Store, cfg RateLimitConfig, now func() time.Time, log logx.Logger) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &RateLimiter{cfg: cfg.withDefaults(), store: store, now: now, log: log}
}

// Apply swaps tunables at runtime. Existing windows and cooldowns keep
// their recorded timestamps.
func (l *RateLimiter) Apply(cfg RateLimitConfig) {
	l.mu.Lock()
	l.cfg = cfg.withDefaults()
	l.mu.Unlock()
}

// Config returns the tunables in effect, defaults filled in.
func (l *RateLimiter) Config() RateLimitConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// Allow reports whether senderID may send now and records the attempt.
//
// A store failure fails open so a broken backend never silences the relay.
func (l *RateLimiter) Allow(ctx context.Context, senderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg := l.cfg
	now := l.now()

	raw, ok, err := l.store.Get(ctx, cooldownKeyPrefix+senderID)
	if err != nil {
		l.log.Warn("rate limit store failed; letting message through", logx.Err(err))
		return true
	}
	if ok {
		var c cooldownEntry
		if json.Unmarshal(raw, &c) == nil && now.UnixNano() < c.Until {
			return false
		}
	}

	st := senderRateState{WindowStart: now.UnixNano()}
	raw, ok, err = l.store.Get(ctx, rateKeyPrefix+senderID)
	if err != nil {
		l.log.Warn("rate limit store failed; letting message through", logx.Err(err))
		return true
	}
	if ok {
		if err := json.Unmarshal(raw, &st); err != nil {
			st = senderRateState{WindowStart: now.UnixNano()}
		}
	}
	if now.Sub(time.Unix(0, st.WindowStart)) > cfg.TimeWindow {
		st = senderRateState{Count: 0, WindowStart: now.UnixNano()}
	}
	st.Count++

	// The state is useless once its window has passed; the TTL lets the
	// store forget idle senders.
	if b, err := json.Marshal(st); err == nil {
		if err := l.store.Set(ctx, rateKeyPrefix+senderID, b, 2*cfg.TimeWindow); err != nil {
			l.log.Warn("rate limit state write failed", logx.Err(err))
		}
	}

	if st.Count > cfg.MaxMessages {
		if b, err := json.Marshal(cooldownEntry{Until: now.Add(cfg.Cooldown).UnixNano()}); err == nil {
			if err := l.store.Set(ctx, cooldownKeyPrefix+senderID, b, cfg.Cooldown); err != nil {
				l.log.Warn("rate limit cooldown write failed", logx.Err(err))
			}
		}
		l.log.Debug("sender entered cooldown",
			logx.String("sender", senderID),
			logx.Int("count", st.Count),
			logx.Duration("cooldown", cfg.Cooldown),
		)
		return false
	}
	return true
}

// Reset forgets the sender's window and cooldown.
func (l *RateLimiter) Reset(ctx context.Context, senderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.Delete(ctx, rateKeyPrefix+senderID); err != nil {
		return err
	}
	return l.store.Delete(ctx, cooldownKeyPrefix+senderID)
}
