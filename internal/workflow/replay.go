package workflow

import (
	"sync"
	"time"
)

// replayGuard makes approved tokens single-use within this instance. Entries
// are keyed by the token's integrity tag and pruned once the token would be
// expired anyway. The guard is per-instance; a horizontally scaled deployment
// that needs a global guarantee must back it with a shared store.
type replayGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

func newReplayGuard(ttl time.Duration) *replayGuard {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &replayGuard{seen: make(map[string]time.Time), ttl: ttl}
}

// markUsed records the fingerprint, reporting false if it was already used.
func (g *replayGuard) markUsed(fingerprint string) bool {
	if fingerprint == "" {
		return true
	}
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()
	for fp, at := range g.seen {
		if now.Sub(at) > g.ttl {
			delete(g.seen, fp)
		}
	}
	if _, used := g.seen[fingerprint]; used {
		return false
	}
	g.seen[fingerprint] = now
	return true
}
