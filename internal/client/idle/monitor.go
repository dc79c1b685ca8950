// Package idle signs a client session out after a period without user activity.
package idle

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type State int

const (
	Active State = iota
	Warning
	LoggedOut
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Warning:
		return "warning"
	case LoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Event is a kind of user input.
type Event string

const (
	PointerMove Event = "pointer_move"
	KeyPress    Event = "key_press"
	Scroll      Event = "scroll"
	Touch       Event = "touch"
	Focus       Event = "focus"
)

var DefaultEvents = []Event{PointerMove, KeyPress, Scroll, Touch, Focus}

type Config struct {
	IdleTimeout time.Duration
	// WarningLead is how long before logout OnWarning fires. Zero disables the warning.
	WarningLead time.Duration
	// Events that count as activity. Empty means DefaultEvents.
	Events []Event
	Clock  clockwork.Clock

	OnWarning func(deadline time.Time)
	OnLogout  func()
}

var (
	ErrBadTimeout = errors.New("idle timeout must be positive")
	ErrBadLead    = errors.New("warning lead must be shorter than the idle timeout")
)

// Monitor moves Active -> Warning -> LoggedOut as idle time accumulates.
// Qualifying activity in Active or Warning starts the countdown over.
// Callbacks run on their own goroutine without the monitor's lock held.
type Monitor struct {
	cfg    Config
	events map[Event]struct{}

	mu       sync.Mutex
	state    State
	deadline time.Time
	warn     clockwork.Timer
	logout   clockwork.Timer
	gen      uint64
	started  bool
	stopped  bool
	// onStop runs once, after the first Stop releases the lock.
	onStop   func()
}

func NewMonitor(cfg Config) (*Monitor, error) {
	if cfg.IdleTimeout <= 0 {
		return nil, ErrBadTimeout
	}
	if cfg.WarningLead < 0 || cfg.WarningLead >= cfg.IdleTimeout {
		return nil, ErrBadLead
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if len(cfg.Events) == 0 {
		cfg.Events = DefaultEvents
	}
	m := &Monitor{cfg: cfg, events: make(map[Event]struct{}, len(cfg.Events))}
	for _, e := range cfg.Events {
		m.events[e] = struct{}{}
	}
	return m, nil
}

// Start arms the countdown. Calling it again has no effect.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true
	m.armLocked()
}

// Activity reports whether ev reset the countdown.
func (m *Monitor) Activity(ev Event) bool {
	if _, ok := m.events[ev]; !ok {
		return false
	}
	return m.reset()
}

// StayLoggedIn is the answer to the warning.
func (m *Monitor) StayLoggedIn() bool { return m.reset() }

func (m *Monitor) reset() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.stopped || m.state == LoggedOut {
		return false
	}
	m.state = Active
	m.armLocked()
	return true
}

// Stop cancels every pending callback. It is idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.gen++
	m.stopTimersLocked()
	onStop := m.onStop
	m.mu.Unlock()

	if onStop != nil {
		onStop()
	}
}

// setOnStop installs fn to run when the monitor stops, or runs it now if
// the monitor already has.
func (m *Monitor) setOnStop(fn func()) {
	m.mu.Lock()
	if !m.stopped {
		m.onStop = fn
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	fn()
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Remaining is the time left until logout, zero once it is due or stopped.
func (m *Monitor) Remaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.state == LoggedOut || !m.started {
		return 0
	}
	if d := m.deadline.Sub(m.cfg.Clock.Now()); d > 0 {
		return d
	}
	return 0
}

func (m *Monitor) armLocked() {
	m.stopTimersLocked()
	m.gen++
	gen := m.gen
	m.deadline = m.cfg.Clock.Now().Add(m.cfg.IdleTimeout)
	if m.cfg.WarningLead > 0 {
		m.warn = m.cfg.Clock.AfterFunc(m.cfg.IdleTimeout-m.cfg.WarningLead, func() { m.fire(gen, Warning) })
	}
	m.logout = m.cfg.Clock.AfterFunc(m.cfg.IdleTimeout, func() { m.fire(gen, LoggedOut) })
}

func (m *Monitor) stopTimersLocked() {
	if m.warn != nil {
		m.warn.Stop()
		m.warn = nil
	}
	if m.logout != nil {
		m.logout.Stop()
		m.logout = nil
	}
}

// fire ignores timers armed before the latest reset.
func (m *Monitor) fire(gen uint64, to State) {
	m.mu.Lock()
	if gen != m.gen || m.stopped || m.state == LoggedOut {
		m.mu.Unlock()
		return
	}
	m.state = to
	deadline := m.deadline
	if to == LoggedOut {
		m.stopped = true
		m.stopTimersLocked()
	}
	m.mu.Unlock()

	switch to {
	case Warning:
		if m.cfg.OnWarning != nil {
			m.cfg.OnWarning(deadline)
		}
	case LoggedOut:
		if m.cfg.OnLogout != nil {
			m.cfg.OnLogout()
		}
	}
}
