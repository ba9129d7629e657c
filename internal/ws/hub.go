package ws

import (
	"context"
	"log/slog"
	"time"

	"github.com/christopherjohns/chatline/internal/logging"
	"github.com/christopherjohns/chatline/internal/message"
	"github.com/christopherjohns/chatline/internal/user"
	"nhooyr.io/websocket"
)

// Config tunes a Hub.
type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SendBuffer        int
	MaxConns          int
	WriteTimeout      time.Duration
}

// Hub ties the connection registry, the presence broadcaster and the
// message router together.
type Hub struct {
	cfg      Config
	registry *Registry
	presence *Presence
	router   *Router
	log      *slog.Logger
}

// NewHub creates a hub persisting to store. files may be nil.
func NewHub(cfg Config, store message.Store, files AttachmentSaver, log *slog.Logger) *Hub {
	if log == nil {
		log = logging.Discard()
	}
	reg := NewRegistry(
		WithMaxConns(cfg.MaxConns),
		WithSendBuffer(cfg.SendBuffer),
		WithWriteTimeout(cfg.WriteTimeout),
		WithLogger(log),
	)
	presence := NewPresence(reg, log)
	reg.onChange = presence.Recompute

	return &Hub{
		cfg:      cfg,
		registry: reg,
		presence: presence,
		router:   NewRouter(reg, store, files, log),
		log:      log,
	}
}

// Registry returns the connection registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Online returns the distinct users currently connected.
func (h *Hub) Online() []user.Identity {
	return h.presence.Online()
}

// Delete removes a message on behalf of requester and notifies both participants.
func (h *Hub) Delete(ctx context.Context, requester user.Identity, id string) (*message.Message, error) {
	return h.router.Delete(ctx, requester, id)
}

// Stats returns registry statistics.
func (h *Hub) Stats() Stats {
	return h.registry.Stats()
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	h.registry.Shutdown()
}

// monitor starts the heartbeat for c. A dead heartbeat evicts c.
func (h *Hub) monitor(c *Conn) *Monitor {
	m := NewMonitor(h.cfg.HeartbeatInterval, h.cfg.HeartbeatTimeout, c.transport,
		c.markPong,
		func() { h.registry.Evict(c, websocket.StatusPolicyViolation, "heartbeat timeout") },
		h.log.With("conn_id", c.id, "user_id", c.identity.ID),
	)
	go m.Run(c.Context())
	return m
}

// sendError reports err to the connection that caused it.
func (h *Hub) sendError(c *Conn, err error) {
	frame, encErr := encodeFrame(FrameError, errorPayload(err))
	if encErr != nil {
		return
	}
	h.registry.Send(c, frame)
}
