package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/christopherjohns/chatline/internal/apperr"
	"github.com/christopherjohns/chatline/internal/auth"
	"github.com/christopherjohns/chatline/internal/logging"
	"nhooyr.io/websocket"
)

// inboundBuffer bounds the events read from one connection but not yet routed.
const inboundBuffer = 32

// ErrInboundFull is reported when a client sends faster than its events can
// be routed. The event is dropped and the connection stays open.
var ErrInboundFull = apperr.New(apperr.KindTransport, "INBOUND_FULL", "too many pending events")

// Handler upgrades authenticated requests to WebSocket connections and
// runs their read loop.
type Handler struct {
	hub      *Hub
	verifier auth.Verifier
	origins  []string
	maxFrame int64
	log      *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithOriginPatterns allows cross-origin upgrades from the given host patterns.
func WithOriginPatterns(patterns ...string) HandlerOption {
	return func(h *Handler) {
		h.origins = append(h.origins, patterns...)
	}
}

// WithMaxFrameBytes limits the size of a single inbound frame.
func WithMaxFrameBytes(n int64) HandlerOption {
	return func(h *Handler) {
		h.maxFrame = n
	}
}

// WithHandlerLogger sets the handler logger.
func WithHandlerLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.log = log
	}
}

// NewHandler creates a new WebSocket Handler.
func NewHandler(hub *Hub, verifier auth.Verifier, opts ...HandlerOption) *Handler {
	h := &Handler{
		hub:      hub,
		verifier: verifier,
		log:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP verifies the identity token, upgrades the connection, admits it
// and reads events until it closes or is evicted.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := h.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.log.Warn("accept failed", "user_id", id.ID, "error", err)
		return
	}
	if h.maxFrame > 0 {
		conn.SetReadLimit(h.maxFrame)
	}

	t := wsTransport{conn: conn}
	c, err := h.hub.registry.Admit(t, id)
	if err != nil {
		code := websocket.StatusTryAgainLater
		if errors.Is(err, ErrShuttingDown) {
			code = websocket.StatusGoingAway
		}
		conn.Close(code, err.Error())
		return
	}
	defer h.hub.registry.Evict(c, websocket.StatusNormalClosure, "")

	h.hub.monitor(c)

	// Routing can block on storage, and pongs are only handled while a read
	// is pending, so events are routed off the read goroutine.
	inbound := make(chan Event, inboundBuffer)
	go h.route(c, inbound)
	h.readLoop(c, t.Read, inbound)
	close(inbound)
}

// readLoop decodes frames until the transport closes and queues events for
// route. Malformed frames and events that do not fit in the queue are
// reported back as error frames.
func (h *Handler) readLoop(c *Conn, read ReadFunc, inbound chan<- Event) {
	log := h.log.With("conn_id", c.ID(), "user_id", c.Identity().ID)
	// Cancelling a read drops the connection without a close frame, so the
	// loop ends when Evict closes the transport instead.
	for ev, err := range Events(context.WithoutCancel(c.Context()), read) {
		if err != nil {
			log.Debug("dropping frame", "error", err)
			h.hub.sendError(c, err)
			continue
		}
		select {
		case inbound <- ev:
		default:
			log.Warn("inbound queue full", "event", ev.eventType())
			h.hub.sendError(c, ErrInboundFull)
		}
	}
}

// route hands queued events to the router in arrival order until inbound is
// closed. Rejected events are reported back as error frames.
func (h *Handler) route(c *Conn, inbound <-chan Event) {
	log := h.log.With("conn_id", c.ID(), "user_id", c.Identity().ID)
	for ev := range inbound {
		if err := h.hub.router.HandleInbound(c.Context(), c, ev); err != nil {
			log.Info("event rejected", "event", ev.eventType(), "error", err)
			h.hub.sendError(c, err)
		}
	}
}
