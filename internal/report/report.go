/*
Package report renders a scan's backend report page in headless chrome and
saves the resulting html.
*/
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/vigo/scanwatch/internal/scan"
)

// defaults.
const (
	DefaultWait    = time.Second
	DefaultTimeout = 30 * time.Second
	DefaultDir     = "reports"
)

// sentinel errors.
var (
	ErrEmptyPage = errors.New("empty page rendered")
	ErrEmptyID   = errors.New("scan id required")
)

type renderFunc func(ctx context.Context, url string) (string, error)

// Renderer saves report pages.
type Renderer struct {
	Logger  *slog.Logger
	render  renderFunc
	Dir     string
	Wait    time.Duration
	Timeout time.Duration
}

// Option represents option function type.
type Option func(*Renderer)

// WithLogger sets logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) {
		if l != nil {
			r.Logger = l
		}
	}
}

// WithDir sets the output directory.
func WithDir(dir string) Option {
	return func(r *Renderer) {
		if dir != "" {
			r.Dir = dir
		}
	}
}

// WithWait sets how long to let the page settle after navigation.
func WithWait(d time.Duration) Option {
	return func(r *Renderer) {
		if d >= 0 {
			r.Wait = d
		}
	}
}

// WithTimeout bounds a single render.
func WithTimeout(d time.Duration) Option {
	return func(r *Renderer) {
		if d > 0 {
			r.Timeout = d
		}
	}
}

// New instantiates new renderer.
func New(options ...Option) *Renderer {
	r := &Renderer{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Dir:     DefaultDir,
		Wait:    DefaultWait,
		Timeout: DefaultTimeout,
	}
	for _, opt := range options {
		opt(r)
	}
	if r.render == nil {
		r.render = r.renderPage
	}

	return r
}

// FileName is the name a report for id is saved under.
func FileName(id scan.ID, at time.Time) string {
	return fmt.Sprintf("scan-%s-%s.html", id, at.UTC().Format("20060102T150405Z"))
}

// Save renders url and writes it under Dir, returning the written path.
func (r *Renderer) Save(ctx context.Context, id scan.ID, url string) (string, error) {
	if id == "" {
		return "", ErrEmptyID
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	html, err := r.render(ctx, url)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}
	if html == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyPage, url)
	}

	if err = os.MkdirAll(r.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	path := filepath.Join(r.Dir, FileName(id, time.Now()))
	if err = os.WriteFile(path, []byte(html), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	r.Logger.Info("report saved", "id", id, "path", path, "bytes", len(html))

	return path, nil
}

func (r *Renderer) renderPage(parentCtx context.Context, url string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)

	allocatorCtx, cancelAllocator := chromedp.NewExecAllocator(parentCtx, opts...)
	defer cancelAllocator()

	ctx, cancel := chromedp.NewContext(allocatorCtx)
	defer cancel()

	var html string

	r.Logger.Debug("navigating to", "url", url)

	if err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.Sleep(r.Wait),
		chromedp.OuterHTML("html", &html),
	); err != nil {
		return "", err
	}

	if html == "" {
		r.Logger.Warn("empty html received", "url", url)
	}

	return html, nil
}
