package auth

import (
	"context"
	"sync"
	"time"
)

// Revocations remembers logged-out token IDs until the tokens would have
// expired anyway.
type Revocations struct {
	mu      sync.Mutex
	entries map[string]time.Time
	stop    context.CancelFunc
}

// NewRevocations creates a store that sweeps expired entries every interval.
func NewRevocations(interval time.Duration) *Revocations {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Revocations{
		entries: make(map[string]time.Time),
		stop:    cancel,
	}
	go r.reapLoop(ctx, interval)
	return r
}

// Add revokes the token with the given ID until expiresAt.
func (r *Revocations) Add(tokenID string, expiresAt time.Time) {
	if tokenID == "" {
		return
	}
	r.mu.Lock()
	r.entries[tokenID] = expiresAt
	r.mu.Unlock()
}

// Revoked reports whether tokenID has been revoked.
func (r *Revocations) Revoked(tokenID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[tokenID]
	return ok
}

// Count returns the number of revoked, not yet expired tokens.
func (r *Revocations) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops the reaper.
func (r *Revocations) Close() {
	r.stop()
}

func (r *Revocations) reapLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.reap(now)
		}
	}
}

func (r *Revocations) reap(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, exp := range r.entries {
		if now.After(exp) {
			delete(r.entries, id)
		}
	}
}
