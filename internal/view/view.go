/*
Package view implements the list/detail navigation state machine.

The controller owns the list store while the list is shown and exactly one
poller while a scan is shown, and tears down whichever is active on every
transition.
*/
package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vigo/scanwatch/internal/apiclient"
	"github.com/vigo/scanwatch/internal/availability"
	"github.com/vigo/scanwatch/internal/liststore"
	"github.com/vigo/scanwatch/internal/poller"
	"github.com/vigo/scanwatch/internal/scan"
)

// sentinel errors.
var (
	ErrNotStarted  = errors.New("controller not started")
	ErrNoSelection = errors.New("no scan selected")
)

// Kind of view on screen.
type Kind string

// views.
const (
	KindList   Kind = "list"
	KindDetail Kind = "detail"
)

// Snapshot is everything a renderer needs.
type Snapshot struct {
	Detail    *poller.State
	FormError string
	Banner    string
	Kind      Kind
	ScanID    scan.ID
	Scans     []scan.Scan
	Available bool
}

// FinishedFunc is called once per poller when its scan reaches a terminal
// status.
type FinishedFunc func(detail scan.Detail)

// Controller drives navigation.
type Controller struct {
	ctx          context.Context
	api          *availability.Client
	list         *liststore.Store
	poller       *poller.Poller
	logger       *slog.Logger
	onChange     func(Snapshot)
	onFinished   FinishedFunc
	kind         Kind
	formError    string
	pollInterval time.Duration
	listInterval time.Duration
	maxFailures  int
	mu           sync.Mutex
	notifyMu     sync.Mutex
}

// Option represents option function type.
type Option func(*Controller)

// WithLogger sets logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithListInterval sets the list refresh cadence.
func WithListInterval(d time.Duration) Option {
	return func(c *Controller) { c.listInterval = d }
}

// WithPollInterval sets the detail polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) { c.pollInterval = d }
}

// WithMaxPollFailures sets the detail give-up threshold, 0 never gives up.
func WithMaxPollFailures(n int) Option {
	return func(c *Controller) { c.maxFailures = n }
}

// WithOnChange registers fn, called with a fresh snapshot after every
// visible change. fn must not navigate.
func WithOnChange(fn func(Snapshot)) Option {
	return func(c *Controller) { c.onChange = fn }
}

// WithOnFinished registers fn for terminal scans observed in detail view.
func WithOnFinished(fn FinishedFunc) Option {
	return func(c *Controller) { c.onFinished = fn }
}

// New instantiates a controller in list view. api must be guarded by the
// availability monitor that drives the banner.
func New(api *availability.Client, options ...Option) *Controller {
	c := &Controller{
		api:          api,
		kind:         KindList,
		logger:       slog.New(slog.DiscardHandler),
		listInterval: liststore.DefaultInterval,
		pollInterval: poller.DefaultInterval,
	}
	for _, option := range options {
		option(c)
	}

	c.list = liststore.New(api,
		liststore.WithInterval(c.listInterval),
		liststore.WithLogger(c.logger),
		liststore.WithOnUpdate(func([]scan.Scan) { c.notify() }),
	)
	api.Monitor().OnChange(func(bool) { c.notify() })

	return c
}

// Start shows the list view and starts its refresh timer.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.stopPollerLocked()
	c.kind = KindList
	c.mu.Unlock()

	c.list.Start(ctx)
	c.notify()
}

// Close stops whatever timer is active.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopPollerLocked()
	c.mu.Unlock()

	c.list.Stop()
}

// SelectScan opens the detail view for s.
func (c *Controller) SelectScan(s scan.Scan) error {
	if err := c.enterDetail(s.ID); err != nil {
		return err
	}
	c.notify()

	return nil
}

// Back returns to the list view and refreshes it right away.
func (c *Controller) Back() error {
	c.mu.Lock()
	if c.ctx == nil {
		c.mu.Unlock()
		return ErrNotStarted
	}
	c.stopPollerLocked()
	c.kind = KindList
	ctx := c.ctx
	c.mu.Unlock()

	c.list.Start(ctx)
	c.notify()

	return nil
}

// ScanCreated inserts s into the list and shows it.
func (c *Controller) ScanCreated(s scan.Scan) error {
	c.list.InsertCreated(s)

	return c.SelectScan(s)
}

// Submit creates a scan from the form values. Validation, availability and
// backend errors are reported through the returned error and the form
// error, and leave every store untouched.
func (c *Controller) Submit(ctx context.Context, targetURL, scanType string) (*scan.Scan, error) {
	created, err := c.create(ctx, targetURL, scanType)

	c.mu.Lock()
	if err != nil {
		c.formError = FormMessage(err)
	} else {
		c.formError = ""
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Info("scan not created", "target", targetURL, "err", err)
		c.notify()

		return nil, err
	}

	c.logger.Info("scan created", "scan_id", created.ID, "target", created.TargetURL, "type", created.Type)

	return created, c.ScanCreated(*created)
}

func (c *Controller) create(ctx context.Context, targetURL, scanType string) (*scan.Scan, error) {
	target, err := scan.ValidateTarget(targetURL)
	if err != nil {
		return nil, err
	}

	typ, err := scan.ParseType(scanType)
	if err != nil {
		return nil, err
	}

	return c.api.CreateScan(ctx, target, typ)
}

// Refresh runs a manual list refresh.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.list.Refresh(ctx)
}

// RetryDetail replaces the poller of the shown scan with a fresh one.
func (c *Controller) RetryDetail() error {
	c.mu.Lock()
	if c.kind != KindDetail || c.poller == nil {
		c.mu.Unlock()
		return ErrNoSelection
	}
	id := c.poller.ScanID()
	c.mu.Unlock()

	return c.SelectScan(scan.Scan{ID: id})
}

// ReportURL returns the report location of the shown scan.
func (c *Controller) ReportURL() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.kind != KindDetail || c.poller == nil {
		return "", ErrNoSelection
	}

	return c.api.ReportURL(c.poller.ScanID()), nil
}

// Snapshot returns the current view model.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		Kind:      c.kind,
		FormError: c.formError,
	}
	p := c.poller
	c.mu.Unlock()

	snap.Available = c.api.Monitor().Available()
	if !snap.Available {
		snap.Banner = "cannot reach the scan api, make sure it is running"
	}

	if snap.Kind == KindDetail && p != nil {
		state := p.State()
		snap.ScanID = state.ScanID
		snap.Detail = &state
	} else {
		snap.Scans = c.list.Scans()
	}

	return snap
}

// ActivePollers reports how many pollers are scheduled, zero or one.
func (c *Controller) ActivePollers() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.poller != nil && c.poller.Active() {
		return 1
	}

	return 0
}

// ListRunning reports whether the list refresh timer is active.
func (c *Controller) ListRunning() bool { return c.list.Running() }

func (c *Controller) enterDetail(id scan.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx == nil {
		return ErrNotStarted
	}

	c.list.Stop()
	c.stopPollerLocked()

	var p *poller.Poller
	p = poller.New(c.api, id,
		poller.WithInterval(c.pollInterval),
		poller.WithMaxFailures(c.maxFailures),
		poller.WithLogger(c.logger),
		poller.WithOnUpdate(func(state poller.State) { c.pollerUpdated(p, state) }),
	)
	c.poller = p
	c.kind = KindDetail

	if err := p.Start(c.ctx); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}

	return nil
}

func (c *Controller) stopPollerLocked() {
	if c.poller != nil {
		c.poller.Stop()
		c.poller = nil
	}
}

func (c *Controller) pollerUpdated(p *poller.Poller, state poller.State) {
	c.mu.Lock()
	current := c.poller == p
	c.mu.Unlock()

	if !current {
		return
	}

	if state.Terminal && state.Detail != nil && c.onFinished != nil {
		c.onFinished(*state.Detail)
	}
	c.notify()
}

func (c *Controller) notify() {
	if c.onChange == nil {
		return
	}

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.onChange(c.Snapshot())
}

// FormMessage turns a create failure into the text shown under the form.
func FormMessage(err error) string {
	switch {
	case errors.Is(err, availability.ErrUnavailable):
		return "the scan api is not available, start it and retry"
	case apiclient.IsTransport(err):
		return "cannot reach the scan api, check that it is running"
	case errors.Is(err, scan.ErrInvalidTarget), errors.Is(err, scan.ErrInvalidType):
		return err.Error()
	}

	if apiErr, ok := apiclient.AsAPIError(err); ok {
		return apiErr.Detail
	}

	return "could not create the scan"
}
