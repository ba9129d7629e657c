package ws

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/christopherjohns/chatline/internal/user"
	"github.com/samber/lo"
)

// Presence pushes the online list to every connection whenever the
// registry's membership changes.
type Presence struct {
	mu    sync.Mutex
	reg   *Registry
	log   *slog.Logger
	count atomic.Int64
}

// NewPresence creates a broadcaster over reg. It does not hook itself in.
func NewPresence(reg *Registry, log *slog.Logger) *Presence {
	return &Presence{reg: reg, log: log}
}

// Online returns the distinct users with at least one admitted connection.
func (p *Presence) Online() []user.Identity {
	online := lo.UniqBy(p.reg.Snapshot(), func(id user.Identity) string {
		return id.ID
	})
	slices.SortFunc(online, func(a, b user.Identity) int {
		return strings.Compare(a.Username, b.Username)
	})
	return online
}

// Recompute snapshots the registry and queues the online frame for every
// connection. Calls are serialized so each connection sees frames in
// snapshot order.
func (p *Presence) Recompute() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count.Add(1)

	online := p.Online()
	frame, err := encodeFrame(FrameOnline, OnlinePayload{Online: online})
	if err != nil {
		p.log.Error("encode online frame", "error", err)
		return
	}
	n := p.reg.BroadcastToAll(frame)
	p.log.Debug("presence broadcast", "online", len(online), "delivered", n)
}

// Recomputations returns how many times Recompute has run.
func (p *Presence) Recomputations() int64 {
	return p.count.Load()
}
