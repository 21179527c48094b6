package session

import (
	"sync"
	"time"
)

// pruneEvery bounds how often expired nonces are swept out of the window.
const pruneEvery = 5 * time.Minute

// Window remembers handshake nonces for the challenge TTL so a captured
// handshake cannot be replayed while its timestamp is still fresh. Entries
// older than the TTL are irrelevant (the timestamp check already rejects
// them) and get pruned lazily.
type Window struct {
	mu        sync.Mutex
	ttl       time.Duration
	seen      map[string]time.Time // nonce -> expiry
	lastPrune time.Time
}

// NewWindow returns a replay window holding nonces for ttl.
func NewWindow(ttl time.Duration) *Window {
	return &Window{
		ttl:       ttl,
		seen:      make(map[string]time.Time),
		lastPrune: time.Now(),
	}
}

// Remember records the nonce and reports whether it was fresh. A false
// return means the nonce was already seen inside the window: a replay.
func (w *Window) Remember(nonce string) bool {
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if now.Sub(w.lastPrune) > pruneEvery {
		for n, exp := range w.seen {
			if now.After(exp) {
				delete(w.seen, n)
			}
		}
		w.lastPrune = now
	}

	if exp, ok := w.seen[nonce]; ok && now.Before(exp) {
		return false
	}
	w.seen[nonce] = now.Add(w.ttl)
	return true
}

// Len reports the number of tracked nonces, pruned or not.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}
