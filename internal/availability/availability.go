/*
Package availability tracks whether the scan backend is reachable.

The monitor is edge triggered: listeners and the log see exactly one event
per reachable -> unreachable transition and one per recovery, no matter how
many calls fail in between.
*/
package availability

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/vigo/scanwatch/internal/apiclient"
)

// sentinel errors.
var (
	ErrUnavailable = errors.New("backend is not available, start the api and retry")
)

// Edge is the outcome of a state update.
type Edge int

// edges.
const (
	EdgeNone Edge = iota
	EdgeLost
	EdgeRestored
)

func (e Edge) String() string {
	switch e {
	case EdgeLost:
		return "lost"
	case EdgeRestored:
		return "restored"
	default:
		return "none"
	}
}

// Listener is notified on every availability edge.
type Listener func(available bool)

// Monitor holds availability state.
type Monitor struct {
	logger    *slog.Logger
	listeners []Listener
	target    string
	mu        sync.Mutex
	dispatch  sync.Mutex
	available bool
}

// Option represents option function type.
type Option func(*Monitor)

// WithLogger sets logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTarget sets the backend address mentioned in warnings.
func WithTarget(s string) Option {
	return func(m *Monitor) {
		m.target = s
	}
}

// New instantiates a monitor in the available state.
func New(options ...Option) *Monitor {
	m := &Monitor{
		available: true,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(m)
	}

	return m
}

// OnChange registers l.
func (m *Monitor) OnChange(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, l)
}

// Available reports the current state.
func (m *Monitor) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.available
}

// Require fails fast when the backend is known to be unreachable.
func (m *Monitor) Require() error {
	if !m.Available() {
		return ErrUnavailable
	}

	return nil
}

// Guard runs call and updates availability from its outcome. The call's
// error is returned unchanged.
func (m *Monitor) Guard(ctx context.Context, call func(context.Context) error) error {
	err := call(ctx)
	m.Observe(err)

	return err
}

// Observe folds a call outcome into the state. Cancellation says nothing
// about the backend and leaves the state untouched.
func (m *Monitor) Observe(err error) Edge {
	switch {
	case err == nil:
		return m.set(true, nil)
	case apiclient.IsTransport(err):
		return m.set(false, err)
	case errors.Is(err, context.Canceled):
		return EdgeNone
	default:
		return m.set(true, nil)
	}
}

// set holds dispatch from the transition until the last listener returns,
// so listeners see edges in the order they happened. Listeners must not
// call Observe.
func (m *Monitor) set(available bool, cause error) Edge {
	m.dispatch.Lock()
	defer m.dispatch.Unlock()

	m.mu.Lock()
	edge := transition(m.available, available)
	m.available = available
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	switch edge {
	case EdgeLost:
		m.logger.Warn("backend unavailable, make sure the api is running", "target", m.target, "err", cause)
	case EdgeRestored:
		m.logger.Info("backend reachable again", "target", m.target)
	case EdgeNone:
		return edge
	}

	for _, l := range listeners {
		l(available)
	}

	return edge
}

func transition(was, now bool) Edge {
	switch {
	case was && !now:
		return EdgeLost
	case !was && now:
		return EdgeRestored
	default:
		return EdgeNone
	}
}
