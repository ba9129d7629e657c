package ws

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/christopherjohns/chatline/internal/apperr"
	"github.com/christopherjohns/chatline/internal/logging"
	"github.com/christopherjohns/chatline/internal/user"
	"github.com/rs/xid"
	"nhooyr.io/websocket"
)

const (
	// defaultSendBuffer is the number of frames that can be queued per connection.
	defaultSendBuffer = 16

	// defaultWriteTimeout is the max time to wait for a single write to complete.
	defaultWriteTimeout = 5 * time.Second
)

var (
	ErrAtCapacity   = apperr.New(apperr.KindTransport, "AT_CAPACITY", "server at capacity")
	ErrShuttingDown = apperr.New(apperr.KindTransport, "SHUTTING_DOWN", "server shutting down")
)

// Transport is the write side of a connection plus its liveness probe.
type Transport interface {
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

// Conn is an admitted connection owned by a Registry.
type Conn struct {
	id          string
	identity    user.Identity
	transport   Transport
	send        chan []byte
	ctx         context.Context
	cancel      context.CancelFunc
	connectedAt time.Time
	lastPong    atomic.Int64
}

// ID identifies the connection in logs and stats.
func (c *Conn) ID() string { return c.id }

// Identity is the user that owns the connection.
func (c *Conn) Identity() user.Identity { return c.identity }

// Context is cancelled once the connection is evicted.
func (c *Conn) Context() context.Context { return c.ctx }

// Alive reports whether the connection is still admitted.
func (c *Conn) Alive() bool { return c.ctx.Err() == nil }

// LastPong is when the last heartbeat probe was acknowledged.
func (c *Conn) LastPong() time.Time { return time.Unix(0, c.lastPong.Load()) }

func (c *Conn) markPong(t time.Time) { c.lastPong.Store(t.UnixNano()) }

// ConnInfo describes one admitted connection.
type ConnInfo struct {
	ConnID      string    `json:"connId"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastPong    time.Time `json:"lastPong"`
	Queued      int       `json:"queued"`
}

// Stats holds point-in-time registry statistics.
type Stats struct {
	Active      int   `json:"active"`
	MaxConns    int   `json:"maxConns"`
	Admitted    int64 `json:"admitted"`
	Rejected    int64 `json:"rejected"`
	SlowEvicted int64 `json:"slowEvicted"`
	WriteFailed int64 `json:"writeFailed"`
}

// Registry is the set of live connections tagged with their owner.
// Every admit and evict runs the change hook once, outside the lock.
type Registry struct {
	mu           sync.Mutex
	conns        map[*Conn]struct{}
	closed       bool
	maxConns     int
	sendBuffer   int
	writeTimeout time.Duration
	onChange     func()
	log          *slog.Logger

	admitted    atomic.Int64
	rejected    atomic.Int64
	slowEvicted atomic.Int64
	writeFailed atomic.Int64
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMaxConns sets the maximum number of concurrent connections.
// A value of 0 means unlimited (default).
func WithMaxConns(n int) RegistryOption {
	return func(r *Registry) {
		r.maxConns = n
	}
}

// WithSendBuffer sets the per-connection outbound queue length.
func WithSendBuffer(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.sendBuffer = n
		}
	}
}

// WithWriteTimeout bounds a single transport write.
func WithWriteTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(log *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.log = log
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		conns:        make(map[*Conn]struct{}),
		sendBuffer:   defaultSendBuffer,
		writeTimeout: defaultWriteTimeout,
		log:          logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Admit registers a connection for id and starts its write pump.
func (r *Registry) Admit(t Transport, id user.Identity) (*Conn, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if r.maxConns > 0 && len(r.conns) >= r.maxConns {
		r.mu.Unlock()
		r.rejected.Add(1)
		return nil, ErrAtCapacity
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	c := &Conn{
		id:          xid.New().String(),
		identity:    id,
		transport:   t,
		send:        make(chan []byte, r.sendBuffer),
		ctx:         ctx,
		cancel:      cancel,
		connectedAt: now,
	}
	c.markPong(now)
	r.conns[c] = struct{}{}
	r.mu.Unlock()

	r.admitted.Add(1)
	go r.writePump(c)

	r.log.Info("connection admitted", "conn_id", c.id, "user_id", id.ID)
	r.changed()
	return c, nil
}

// Evict removes c, stops its pump and closes its transport. It returns
// false if c was already gone; the change hook only runs for the call
// that actually removed it.
func (r *Registry) Evict(c *Conn, code websocket.StatusCode, reason string) bool {
	r.mu.Lock()
	_, ok := r.conns[c]
	if ok {
		delete(r.conns, c)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	c.cancel()
	// The close handshake can take seconds against a dead peer.
	go c.transport.Close(code, reason)

	r.log.Info("connection evicted", "conn_id", c.id, "user_id", c.identity.ID, "reason", reason)
	r.changed()
	return true
}

// Send queues data for c. It never blocks: a full queue evicts c as a slow
// consumer, and sending to an evicted connection is a no-op.
func (r *Registry) Send(c *Conn, data []byte) bool {
	if !c.Alive() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		r.slowEvicted.Add(1)
		r.log.Warn("send buffer full, evicting", "conn_id", c.id, "user_id", c.identity.ID)
		go r.Evict(c, websocket.StatusPolicyViolation, "slow consumer")
		return false
	}
}

// BroadcastToAll queues data for every admitted connection and returns
// how many accepted it.
func (r *Registry) BroadcastToAll(data []byte) int {
	n := 0
	for _, c := range r.Conns() {
		if r.Send(c, data) {
			n++
		}
	}
	return n
}

// BroadcastToUser queues data for every connection owned by userID.
func (r *Registry) BroadcastToUser(userID string, data []byte) int {
	r.mu.Lock()
	var targets []*Conn
	for c := range r.conns {
		if c.identity.ID == userID {
			targets = append(targets, c)
		}
	}
	r.mu.Unlock()

	n := 0
	for _, c := range targets {
		if r.Send(c, data) {
			n++
		}
	}
	return n
}

// Conns returns the admitted connections.
func (r *Registry) Conns() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Snapshot returns the identity of every admitted connection. A user with
// several connections appears once per connection.
func (r *Registry) Snapshot() []user.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]user.Identity, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c.identity)
	}
	return out
}

// Count returns the number of admitted connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Stats returns current registry statistics.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	active := len(r.conns)
	r.mu.Unlock()
	return Stats{
		Active:      active,
		MaxConns:    r.maxConns,
		Admitted:    r.admitted.Load(),
		Rejected:    r.rejected.Load(),
		SlowEvicted: r.slowEvicted.Load(),
		WriteFailed: r.writeFailed.Load(),
	}
}

// Info returns metadata for all admitted connections.
func (r *Registry) Info() []ConnInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnInfo, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, ConnInfo{
			ConnID:      c.id,
			UserID:      c.identity.ID,
			Username:    c.identity.Username,
			ConnectedAt: c.connectedAt,
			LastPong:    c.LastPong(),
			Queued:      len(c.send),
		})
	}
	return out
}

// Shutdown closes every connection with StatusGoingAway and refuses new
// ones. The change hook is not run.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	conns := r.conns
	r.conns = make(map[*Conn]struct{})
	r.mu.Unlock()

	var wg sync.WaitGroup
	for c := range conns {
		c.cancel()
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.transport.Close(websocket.StatusGoingAway, "server shutting down")
		}()
	}
	wg.Wait()
}

func (r *Registry) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}

// writePump drains c's queue onto its transport until c is evicted.
// A failed write evicts c.
func (r *Registry) writePump(c *Conn) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, r.writeTimeout)
			err := c.transport.Write(ctx, msg)
			cancel()
			if err != nil {
				if c.Alive() {
					r.writeFailed.Add(1)
					r.log.Warn("write failed", "conn_id", c.id, "user_id", c.identity.ID, "error", err)
					r.Evict(c, websocket.StatusInternalError, "write failed")
				}
				return
			}
		}
	}
}
