// Package monitor simulates the link between the chat front end and the main
// agent. On every check interval the link may drop; a dropped link is
// retried with linear backoff until it comes back or the attempts run out.
// Nothing here touches a real network.
package monitor

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kalambet/sentinelx/internal/schedule"
)

// Config tunes the simulation.
type Config struct {
	Interval         time.Duration // between loss checks
	LossProbability  float64       // chance a check drops the link
	ReconnectBase    time.Duration // attempt n waits ReconnectBase*n
	MaxAttempts      int
	ReconnectSuccess float64 // chance an attempt restores the link
}

// DefaultConfig returns the stock simulation parameters.
func DefaultConfig() Config {
	return Config{
		Interval:         30 * time.Second,
		LossProbability:  0.05,
		ReconnectBase:    time.Second,
		MaxAttempts:      5,
		ReconnectSuccess: 0.7,
	}
}

// Rand yields uniform draws in [0, 1).
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// EventKind enumerates link transitions.
type EventKind string

const (
	Lost      EventKind = "lost"
	Restored  EventKind = "restored"
	Exhausted EventKind = "exhausted"
)

// Event is delivered to the listener on every transition. Attempt is the
// reconnect attempt that produced it (0 for Lost).
type Event struct {
	Kind    EventKind
	Attempt int
}

// Monitor drives the simulated link. Listener calls are made without any
// monitor lock held, so listeners may call back into the monitor.
type Monitor struct {
	cfg      Config
	sched    schedule.Scheduler
	rand     Rand
	active   func() bool
	listener func(Event)
	logger   *slog.Logger

	mu        sync.Mutex
	connected bool
	attempts  int
	exhausted bool
	running   bool
	tick      schedule.Timer
	retry     schedule.Timer
}

// New creates a monitor in the connected state. active reports whether the
// agent is enabled; checks are skipped while it returns false. A nil rnd
// uses the process-wide source.
func New(cfg Config, sched schedule.Scheduler, rnd Rand, active func() bool, listener func(Event)) *Monitor {
	if rnd == nil {
		rnd = globalRand{}
	}
	if active == nil {
		active = func() bool { return true }
	}
	if listener == nil {
		listener = func(Event) {}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	return &Monitor{
		cfg:       cfg,
		sched:     sched,
		rand:      rnd,
		active:    active,
		listener:  listener,
		logger:    slog.Default(),
		connected: true,
	}
}

// Start begins periodic loss checks. Calling Start twice is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running || m.cfg.Interval <= 0 {
		return
	}
	m.running = true
	m.tick = m.sched.After(m.cfg.Interval, m.onTick)
}

// Stop cancels periodic checks and any pending reconnect attempt.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	if m.tick != nil {
		m.tick.Stop()
		m.tick = nil
	}
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Monitor) onTick() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.tick = m.sched.After(m.cfg.Interval, m.onTick)
	m.mu.Unlock()

	m.Check(m.active())
}

// Check runs one loss check and reports whether the link dropped. Checks
// only draw while the link is up and the agent is enabled.
func (m *Monitor) Check(agentActive bool) bool {
	m.mu.Lock()
	if !m.connected || !agentActive {
		m.mu.Unlock()
		return false
	}
	if m.rand.Float64() >= m.cfg.LossProbability {
		m.mu.Unlock()
		return false
	}
	m.connected = false
	m.attempts = 0
	m.exhausted = false
	m.mu.Unlock()

	m.logger.Warn("agent link lost")
	m.listener(Event{Kind: Lost})

	m.mu.Lock()
	if !m.connected && m.retry == nil {
		m.scheduleAttempt()
	}
	m.mu.Unlock()
	return true
}

// scheduleAttempt queues the next reconnect. m.mu must be held.
func (m *Monitor) scheduleAttempt() {
	m.attempts++
	m.retry = m.sched.After(m.cfg.ReconnectBase*time.Duration(m.attempts), m.attempt)
}

func (m *Monitor) attempt() {
	m.mu.Lock()
	m.retry = nil
	if m.connected {
		m.mu.Unlock()
		return
	}
	n := m.attempts
	var ev Event
	switch {
	case m.rand.Float64() < m.cfg.ReconnectSuccess:
		m.connected = true
		m.attempts = 0
		ev = Event{Kind: Restored, Attempt: n}
	case n >= m.cfg.MaxAttempts:
		m.exhausted = true
		ev = Event{Kind: Exhausted, Attempt: n}
	default:
		m.scheduleAttempt()
		m.mu.Unlock()
		m.logger.Debug("reconnect attempt failed", "attempt", n)
		return
	}
	m.mu.Unlock()

	if ev.Kind == Restored {
		m.logger.Info("agent link restored", "attempt", n)
	} else {
		m.logger.Warn("giving up on agent link", "attempts", n)
	}
	m.listener(ev)
}

// Reset forces the link back up and clears the attempt counter, cancelling
// any pending reconnect. No event is emitted.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.connected = true
	m.attempts = 0
	m.exhausted = false
}

// Resume marks the link down and restarts reconnect attempts from the first
// one, as after a loss, without emitting Lost. It is used for sessions
// restored while their link was down.
func (m *Monitor) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retry != nil {
		return
	}
	m.connected = false
	m.attempts = 0
	m.exhausted = false
	m.scheduleAttempt()
}

// Status is a point-in-time view of the link.
type Status struct {
	Connected bool `json:"connected"`
	Attempts  int  `json:"attempts"`
	Exhausted bool `json:"exhausted"`
}

// Status returns the current link status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{Connected: m.connected, Attempts: m.attempts, Exhausted: m.exhausted}
}
