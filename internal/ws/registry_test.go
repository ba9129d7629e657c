package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/christopherjohns/chatline/internal/user"
	"nhooyr.io/websocket"
)

// fakeTransport records written frames in memory.
type fakeTransport struct {
	mu       sync.Mutex
	frames   []Envelope
	writeErr error
	gate     chan struct{}
	ping     func(ctx context.Context) error

	closeOnce sync.Once
	closed    chan struct{}
	code      websocket.StatusCode
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{closed: make(chan struct{})}
}

func (f *fakeTransport) Write(ctx context.Context, data []byte) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	f.frames = append(f.frames, env)
	return nil
}

func (f *fakeTransport) Ping(ctx context.Context) error {
	if f.ping != nil {
		return f.ping(ctx)
	}
	return nil
}

func (f *fakeTransport) Close(code websocket.StatusCode, _ string) error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.code = code
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// framesOf returns the payloads of every frame tagged typ.
func (f *fakeTransport) framesOf(typ string) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []json.RawMessage
	for _, env := range f.frames {
		if env.Type == typ {
			out = append(out, env.Payload)
		}
	}
	return out
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var (
	alice = user.Identity{ID: "u-alice", Username: "alice"}
	bob   = user.Identity{ID: "u-bob", Username: "bob"}
	carol = user.Identity{ID: "u-carol", Username: "carol"}
)

func TestRegistryAdmitEvict(t *testing.T) {
	reg := NewRegistry()
	var changes atomic.Int32
	reg.onChange = func() { changes.Add(1) }

	ft := newFakeTransport()
	c, err := reg.Admit(ft, alice)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if reg.Count() != 1 {
		t.Fatalf("expected 1 connection, got %d", reg.Count())
	}
	if changes.Load() != 1 {
		t.Fatalf("expected 1 change after admit, got %d", changes.Load())
	}

	if !reg.Evict(c, websocket.StatusNormalClosure, "") {
		t.Fatal("expected first evict to remove the connection")
	}
	if reg.Evict(c, websocket.StatusNormalClosure, "") {
		t.Fatal("expected second evict to be a no-op")
	}
	if changes.Load() != 2 {
		t.Fatalf("expected exactly 2 changes, got %d", changes.Load())
	}
	if c.Alive() {
		t.Fatal("expected evicted connection to be dead")
	}
	waitFor(t, "transport close", ft.isClosed)
}

func TestRegistrySnapshotKeepsDuplicates(t *testing.T) {
	reg := NewRegistry()
	a1, _ := reg.Admit(newFakeTransport(), alice)
	_, _ = reg.Admit(newFakeTransport(), alice)
	_, _ = reg.Admit(newFakeTransport(), bob)

	snap := reg.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap))
	}

	reg.Evict(a1, websocket.StatusNormalClosure, "")
	counts := map[string]int{}
	for _, id := range reg.Snapshot() {
		counts[id.ID]++
	}
	if counts[alice.ID] != 1 || counts[bob.ID] != 1 {
		t.Fatalf("unexpected snapshot after evict: %v", counts)
	}
}

func TestRegistrySendAfterEvictIsSoft(t *testing.T) {
	reg := NewRegistry()
	c, _ := reg.Admit(newFakeTransport(), alice)
	reg.Evict(c, websocket.StatusNormalClosure, "")

	for i := 0; i < 100; i++ {
		if reg.Send(c, []byte(`{}`)) {
			t.Fatal("expected send to an evicted connection to fail")
		}
	}
}

func TestRegistryBroadcastToUser(t *testing.T) {
	reg := NewRegistry()
	a1, a2, b := newFakeTransport(), newFakeTransport(), newFakeTransport()
	reg.Admit(a1, alice)
	reg.Admit(a2, alice)
	reg.Admit(b, bob)

	frame, _ := encodeFrame("ping", map[string]string{"x": "y"})
	if n := reg.BroadcastToUser(alice.ID, frame); n != 2 {
		t.Fatalf("expected delivery to 2 connections, got %d", n)
	}
	if n := reg.BroadcastToUser("nobody", frame); n != 0 {
		t.Fatalf("expected no delivery, got %d", n)
	}

	waitFor(t, "both alice connections", func() bool {
		return len(a1.framesOf("ping")) == 1 && len(a2.framesOf("ping")) == 1
	})
	if len(b.framesOf("ping")) != 0 {
		t.Fatal("bob should not receive alice's frame")
	}
}

func TestRegistryBroadcastToAll(t *testing.T) {
	reg := NewRegistry()
	transports := []*fakeTransport{newFakeTransport(), newFakeTransport(), newFakeTransport()}
	for i, ft := range transports {
		reg.Admit(ft, user.Identity{ID: string(rune('a' + i))})
	}

	frame, _ := encodeFrame("hello", struct{}{})
	if n := reg.BroadcastToAll(frame); n != 3 {
		t.Fatalf("expected 3 deliveries, got %d", n)
	}
	for _, ft := range transports {
		waitFor(t, "frame on transport", func() bool { return len(ft.framesOf("hello")) == 1 })
	}
}

func TestRegistryMaxConns(t *testing.T) {
	reg := NewRegistry(WithMaxConns(1))
	if _, err := reg.Admit(newFakeTransport(), alice); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	if _, err := reg.Admit(newFakeTransport(), bob); !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("expected ErrAtCapacity, got %v", err)
	}
	if reg.Stats().Rejected != 1 {
		t.Fatalf("expected 1 rejection, got %d", reg.Stats().Rejected)
	}
}

func TestRegistrySlowConsumerIsEvicted(t *testing.T) {
	reg := NewRegistry(WithSendBuffer(2))
	ft := newFakeTransport()
	ft.gate = make(chan struct{}) // writes never complete
	c, _ := reg.Admit(ft, alice)

	dropped := false
	for i := 0; i < 10; i++ {
		if !reg.Send(c, []byte(`{"type":"x","payload":{}}`)) {
			dropped = true
		}
	}
	if !dropped {
		t.Fatal("expected a send to fail once the buffer filled")
	}
	waitFor(t, "slow consumer eviction", func() bool { return reg.Count() == 0 })
	if reg.Stats().SlowEvicted == 0 {
		t.Fatal("expected slow eviction to be counted")
	}
}

func TestRegistryWriteFailureEvicts(t *testing.T) {
	reg := NewRegistry()
	var changes atomic.Int32
	reg.onChange = func() { changes.Add(1) }

	ft := newFakeTransport()
	ft.writeErr = errors.New("broken pipe")
	c, _ := reg.Admit(ft, alice)

	reg.Send(c, []byte(`{}`))
	waitFor(t, "write failure eviction", func() bool { return changes.Load() == 2 })
	if reg.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Count())
	}
	if reg.Stats().WriteFailed != 1 {
		t.Fatalf("expected 1 write failure, got %d", reg.Stats().WriteFailed)
	}
}

func TestRegistryShutdown(t *testing.T) {
	reg := NewRegistry()
	var changes atomic.Int32
	ft := newFakeTransport()
	reg.Admit(ft, alice)
	reg.onChange = func() { changes.Add(1) }

	reg.Shutdown()

	if reg.Count() != 0 {
		t.Fatalf("expected 0 connections, got %d", reg.Count())
	}
	if !ft.isClosed() || ft.code != websocket.StatusGoingAway {
		t.Fatalf("expected StatusGoingAway close, got closed=%v code=%v", ft.isClosed(), ft.code)
	}
	if _, err := reg.Admit(newFakeTransport(), bob); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
	if changes.Load() != 0 {
		t.Fatalf("shutdown should not recompute presence, got %d", changes.Load())
	}
}

func TestRegistryConcurrentAdmitEvictBroadcast(t *testing.T) {
	reg := NewRegistry()
	frame, _ := encodeFrame("x", struct{}{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := reg.Admit(newFakeTransport(), user.Identity{ID: string(rune('a' + i%5))})
			if err != nil {
				t.Errorf("admit: %v", err)
				return
			}
			reg.BroadcastToAll(frame)
			reg.BroadcastToUser(c.Identity().ID, frame)
			reg.Evict(c, websocket.StatusNormalClosure, "")
			reg.Send(c, frame)
		}(i)
	}
	wg.Wait()

	if reg.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Count())
	}
}
