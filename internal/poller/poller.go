/*
Package poller follows a single scan until it reaches a terminal status.

A Poller is an owned handle for exactly one scan id. Fetches are strictly
sequential: the next one is scheduled only after the previous one resolved.
Once Stop returns, no response can change the poller's state.
*/
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vigo/scanwatch/internal/apiclient"
	"github.com/vigo/scanwatch/internal/scan"
)

// DefaultInterval is the polling cadence for non-terminal scans.
const DefaultInterval = 3 * time.Second

// sentinel errors.
var (
	ErrStaleResponse  = errors.New("stale detail response")
	ErrAlreadyStarted = errors.New("poller already started")
	ErrGaveUp         = errors.New("giving up after repeated failures")
)

// Phase of a poller.
type Phase string

// phases.
const (
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	PhaseError   Phase = "error"
)

// Fetcher loads a scan detail.
type Fetcher interface {
	GetScanDetail(ctx context.Context, id scan.ID) (*scan.Detail, error)
}

// State is a point in time copy of what the poller knows.
type State struct {
	Err      error
	Detail   *scan.Detail
	ScanID   scan.ID
	Phase    Phase
	Failures int
	Terminal bool
}

// Poller polls one scan.
type Poller struct {
	api         Fetcher
	logger      *slog.Logger
	onUpdate    func(State)
	cancel      context.CancelFunc
	done        chan struct{}
	state       State
	id          scan.ID
	interval    time.Duration
	maxFailures int
	mu          sync.Mutex
	started     bool
	stopped     bool
}

// Option represents option function type.
type Option func(*Poller)

// WithInterval sets the polling cadence.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMaxFailures sets how many consecutive failures move the poller to
// PhaseError. Zero, the default, never gives up.
func WithMaxFailures(n int) Option {
	return func(p *Poller) {
		if n >= 0 {
			p.maxFailures = n
		}
	}
}

// WithLogger sets logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithOnUpdate registers fn, called after every applied state change.
func WithOnUpdate(fn func(State)) Option {
	return func(p *Poller) {
		p.onUpdate = fn
	}
}

// New instantiates a poller for id. Nothing happens until Start.
func New(api Fetcher, id scan.ID, options ...Option) *Poller {
	p := &Poller{
		api:      api,
		interval: DefaultInterval,
		logger:   slog.New(slog.DiscardHandler),
		done:     make(chan struct{}),
		id:       id,
		state:    State{ScanID: id, Phase: PhaseLoading},
	}
	for _, option := range options {
		option(p)
	}

	return p
}

// ScanID returns the polled id.
func (p *Poller) ScanID() scan.ID { return p.id }

// State returns a copy of the current state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// Done is closed when the polling loop exits.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Active reports whether the polling loop is still scheduled.
func (p *Poller) Active() bool {
	select {
	case <-p.done:
		return false
	default:
		p.mu.Lock()
		defer p.mu.Unlock()

		return p.started
	}
}

// Start fetches immediately and keeps polling until the scan is terminal,
// the poller gives up, Stop is called or ctx is done.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	if p.stopped {
		p.mu.Unlock()
		close(p.done)

		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	go p.loop(ctx)

	return nil
}

// Stop cancels the pending tick and any in-flight fetch. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		detail, err := p.api.GetScanDetail(ctx, p.id)

		if !p.apply(detail, err) {
			return
		}

		timer.Reset(p.interval)
	}
}

// apply folds one fetch outcome into the state and reports whether polling
// should continue.
func (p *Poller) apply(detail *scan.Detail, err error) bool {
	p.mu.Lock()

	if p.stopped {
		p.mu.Unlock()
		p.logger.Debug("discarding detail response", "err", ErrStaleResponse, "scan_id", p.id)

		return false
	}

	if err == nil {
		if staleErr := p.checkStale(detail); staleErr != nil {
			p.mu.Unlock()
			p.logger.Debug("discarding detail response", "err", staleErr, "scan_id", p.id)

			return true
		}

		p.state.Detail = detail
		p.state.Phase = PhaseReady
		p.state.Err = nil
		p.state.Failures = 0
		p.state.Terminal = detail.Status.IsTerminal()

		state := p.state
		p.mu.Unlock()

		if state.Terminal {
			p.logger.Info("scan finished, polling stopped", "scan_id", state.ScanID, "status", detail.Status)
		}
		p.notify(state)

		return !state.Terminal
	}

	if errors.Is(err, context.Canceled) {
		p.mu.Unlock()
		return false
	}

	p.state.Err = err
	p.state.Failures++

	keepGoing := true
	if apiErr, ok := apiclient.AsAPIError(err); ok && apiErr.NotFound() {
		p.state.Phase = PhaseError
		keepGoing = false
	}
	if p.maxFailures > 0 && p.state.Failures >= p.maxFailures {
		p.state.Phase = PhaseError
		p.state.Err = fmt.Errorf("%w (%d): %w", ErrGaveUp, p.state.Failures, err)
		keepGoing = false
	}

	state := p.state
	p.mu.Unlock()

	p.logger.Warn("scan detail fetch failed", "scan_id", state.ScanID, "failures", state.Failures, "err", err)
	p.notify(state)

	return keepGoing
}

// checkStale must be called with the lock held.
func (p *Poller) checkStale(detail *scan.Detail) error {
	if detail == nil {
		return fmt.Errorf("%w: empty detail", ErrStaleResponse)
	}
	if detail.ID != p.id {
		return fmt.Errorf("%w: got scan %s", ErrStaleResponse, detail.ID)
	}
	if p.state.Detail != nil && scan.Regresses(p.state.Detail.Status, detail.Status) {
		return fmt.Errorf("%w: status %s after %s", ErrStaleResponse, detail.Status, p.state.Detail.Status)
	}

	return nil
}

func (p *Poller) notify(state State) {
	if p.onUpdate != nil {
		p.onUpdate(state)
	}
}
