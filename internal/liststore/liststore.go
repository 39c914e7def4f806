/*
Package liststore holds the known scans, newest first, and keeps them fresh
while the list view is on screen.
*/
package liststore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vigo/scanwatch/internal/scan"
)

// DefaultInterval is the refresh cadence of the list view.
const DefaultInterval = 5 * time.Second

// sentinel errors.
var (
	ErrStaleResponse = errors.New("stale list response")
)

// Lister fetches the full scan list.
type Lister interface {
	ListScans(ctx context.Context) ([]scan.Scan, error)
}

// Store owns the scan list. It is the only writer of that list.
type Store struct {
	api      Lister
	logger   *slog.Logger
	onUpdate func([]scan.Scan)
	cancel   context.CancelFunc
	done     chan struct{}
	scans    []scan.Scan
	interval time.Duration
	seq      uint64
	applied  uint64
	epoch    uint64
	mu       sync.Mutex
}

// Option represents option function type.
type Option func(*Store)

// WithInterval sets the refresh cadence.
func WithInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithOnUpdate registers fn, called with a copy of the list after every
// applied change.
func WithOnUpdate(fn func([]scan.Scan)) Option {
	return func(s *Store) {
		s.onUpdate = fn
	}
}

// New instantiates an empty store.
func New(api Lister, options ...Option) *Store {
	s := &Store{
		api:      api,
		interval: DefaultInterval,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(s)
	}

	return s
}

// Scans returns a copy of the current list.
func (s *Store) Scans() []scan.Scan {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]scan.Scan(nil), s.scans...)
}

// Refresh fetches the list and replaces the local copy. On failure the
// previous list is kept. A result overtaken by a newer write, or by Stop,
// is discarded with ErrStaleResponse.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.seq++
	token, epoch := s.seq, s.epoch
	s.mu.Unlock()

	fetched, err := s.api.ListScans(ctx)
	if err != nil {
		s.logger.Debug("list refresh failed, keeping previous list", "err", err)
		return err
	}

	s.mu.Lock()
	if epoch != s.epoch || token <= s.applied {
		s.mu.Unlock()
		s.logger.Debug("discarding list response", "err", ErrStaleResponse, "token", token)

		return ErrStaleResponse
	}
	s.scans = merge(s.scans, fetched)
	s.applied = token
	snapshot := append([]scan.Scan(nil), s.scans...)
	s.mu.Unlock()

	s.notify(snapshot)

	return nil
}

// InsertCreated puts a freshly created scan at the front. Any older copy
// with the same id is dropped, and in-flight refreshes issued before the
// insert are treated as stale.
func (s *Store) InsertCreated(created scan.Scan) {
	s.mu.Lock()
	next := make([]scan.Scan, 0, len(s.scans)+1)
	next = append(next, created)
	for _, existing := range s.scans {
		if existing.ID != created.ID {
			next = append(next, existing)
		}
	}
	s.scans = next
	s.seq++
	s.applied = s.seq
	snapshot := append([]scan.Scan(nil), s.scans...)
	s.mu.Unlock()

	s.notify(snapshot)
}

// Start refreshes immediately and then on every tick until Stop or ctx is
// done. Calling Start on a running store restarts its timer.
func (s *Store) Start(ctx context.Context) {
	s.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.epoch++
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.loop(ctx, done)
}

// Stop cancels the timer and any in-flight refresh. Idempotent.
func (s *Store) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	if cancel != nil {
		s.epoch++
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Running reports whether the refresh timer is active.
func (s *Store) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cancel != nil
}

// Done is closed when the current refresh loop exits. Nil before Start.
func (s *Store) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.done
}

func (s *Store) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		_ = s.Refresh(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Store) notify(snapshot []scan.Scan) {
	if s.onUpdate != nil {
		s.onUpdate(snapshot)
	}
}

// merge takes fetched as the new list. Duplicate ids keep their first
// occurrence, and an entry whose status went backwards keeps the copy we
// already had.
func merge(current, fetched []scan.Scan) []scan.Scan {
	known := make(map[scan.ID]scan.Scan, len(current))
	for _, s := range current {
		known[s.ID] = s
	}

	seen := make(map[scan.ID]struct{}, len(fetched))
	out := make([]scan.Scan, 0, len(fetched))
	for _, s := range fetched {
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}

		if prev, ok := known[s.ID]; ok && scan.Regresses(prev.Status, s.Status) {
			s = prev
		}
		out = append(out, s)
	}

	return out
}
