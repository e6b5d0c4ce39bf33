package relay

import (
	"context"
	"sync"
	"time"

	"guildrelay/internal/state"
	logx "guildrelay/pkg/logx"
)

// DefaultMessageTTL is how long a fingerprint suppresses repeats.
const DefaultMessageTTL = 5 * time.Second

const dedupKeyPrefix = "dedup:"

// DedupGuard suppresses a message whose fingerprint was seen within the TTL.
// A sighting inside the window is suppressed without re-timing the entry.
type DedupGuard struct {
	mu    sync.Mutex
	ttl   time.Duration
	store state.Store
	log   logx.Logger
}

// NewDedupGuard records fingerprints in store for ttl (DefaultMessageTTL when <= 0).
func NewDedupGuard(store state.Store, ttl time.Duration, log logx.Logger) *DedupGuard {
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &DedupGuard{store: store, log: log}
	g.SetTTL(ttl)
	return g
}

// SetTTL changes the window for fingerprints recorded from now on.
func (g *DedupGuard) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultMessageTTL
	}
	g.mu.Lock()
	g.ttl = ttl
	g.mu.Unlock()
}

// IsRecent reports whether fp is currently tracked. Callers drop the message
// on true. On false the fingerprint has been recorded for one TTL.
//
// A store failure fails open: the message is processed and the error logged.
func (g *DedupGuard) IsRecent(ctx context.Context, fp Fingerprint) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	added, err := g.store.Add(ctx, dedupKeyPrefix+string(fp), []byte{1}, g.ttl)
	if err != nil {
		g.log.Warn("dedup store failed; letting message through", logx.Err(err))
		return false
	}
	return !added
}
