package ws

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHeartbeatTimeout  = time.Second
)

// HeartbeatState is where a Monitor is in its probe cycle.
type HeartbeatState int32

const (
	AwaitingInterval HeartbeatState = iota
	AwaitingAck
	Dead
)

func (s HeartbeatState) String() string {
	switch s {
	case AwaitingInterval:
		return "awaiting-interval"
	case AwaitingAck:
		return "awaiting-ack"
	default:
		return "dead"
	}
}

// Pinger sends one liveness probe and returns once it is acknowledged or
// ctx expires.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor probes one connection on a fixed interval and declares it dead
// the first time a probe goes unacknowledged within the timeout.
type Monitor struct {
	interval time.Duration
	timeout  time.Duration
	pinger   Pinger
	onAck    func(time.Time)
	onDead   func()
	log      *slog.Logger
	state    atomic.Int32
}

// NewMonitor creates a monitor. onDead runs at most once. onAck may be nil.
func NewMonitor(interval, timeout time.Duration, p Pinger, onAck func(time.Time), onDead func(), log *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return &Monitor{
		interval: interval,
		timeout:  timeout,
		pinger:   p,
		onAck:    onAck,
		onDead:   onDead,
		log:      log,
	}
}

// State returns the current state.
func (m *Monitor) State() HeartbeatState {
	return HeartbeatState(m.state.Load())
}

// Run drives the probe cycle until the connection dies or ctx is done.
// Cancelling ctx stops the cycle without declaring the connection dead.
func (m *Monitor) Run(ctx context.Context) {
	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		m.state.Store(int32(AwaitingAck))
		probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := m.pinger.Ping(probeCtx)
		cancel()

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.die(err)
			return
		}

		if m.onAck != nil {
			m.onAck(time.Now())
		}
		m.state.Store(int32(AwaitingInterval))
		timer.Reset(m.interval)
	}
}

func (m *Monitor) die(err error) {
	if !m.state.CompareAndSwap(int32(AwaitingAck), int32(Dead)) {
		return
	}
	m.log.Info("heartbeat timed out", "error", err)
	m.onDead()
}
