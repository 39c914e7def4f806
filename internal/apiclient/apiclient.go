/*
Package apiclient wraps the scan backend HTTP contract. It classifies
failures into transport errors and application errors and never retries.
*/
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/vigo/scanwatch/internal/httpclient"
	"github.com/vigo/scanwatch/internal/scan"
)

var _ API = (*Client)(nil) // compile time proof

const (
	scansPath       = "/api/scans"
	maxErrorBody    = 64 << 10
	maxDetailLength = 512
)

// API is the backend contract consumed by the client components.
type API interface {
	ListScans(ctx context.Context) ([]scan.Scan, error)
	CreateScan(ctx context.Context, targetURL string, scanType scan.Type) (*scan.Scan, error)
	GetScanDetail(ctx context.Context, id scan.ID) (*scan.Detail, error)
	ReportURL(id scan.ID) string
}

// Client talks to the scan backend.
type Client struct {
	doer    httpclient.Doer
	logger  *slog.Logger
	baseURL string
}

// Option represents option function type.
type Option func(*Client) error

// WithDoer replaces the underlying http doer.
func WithDoer(d httpclient.Doer) Option {
	return func(c *Client) error {
		if d == nil {
			return fmt.Errorf("%w: nil doer", httpclient.ErrInvalid)
		}
		c.doer = d

		return nil
	}
}

// WithLogger sets logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) error {
		if l != nil {
			c.logger = l
		}

		return nil
	}
}

// New instantiates a client for baseURL.
func New(baseURL string, options ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		logger:  slog.New(slog.DiscardHandler),
	}

	for _, option := range options {
		if err = option(c); err != nil {
			return nil, err
		}
	}

	if c.doer == nil {
		hc, errr := httpclient.New()
		if errr != nil {
			return nil, errr
		}
		c.doer = hc
	}

	return c, nil
}

// BaseURL returns the normalised backend base url.
func (c *Client) BaseURL() string { return c.baseURL }

// ListScans fetches all scans, newest first.
func (c *Client) ListScans(ctx context.Context) ([]scan.Scan, error) {
	var scans []scan.Scan
	if err := c.do(ctx, http.MethodGet, scansPath, nil, &scans); err != nil {
		return nil, err
	}

	return scans, nil
}

type createRequest struct {
	TargetURL string    `json:"target_url"`
	ScanType  scan.Type `json:"scan_type"`
}

// CreateScan submits a new scan.
func (c *Client) CreateScan(ctx context.Context, targetURL string, scanType scan.Type) (*scan.Scan, error) {
	body, err := json.Marshal(createRequest{TargetURL: targetURL, ScanType: scanType})
	if err != nil {
		return nil, err
	}

	var created scan.Scan
	if err = c.do(ctx, http.MethodPost, scansPath, body, &created); err != nil {
		return nil, err
	}

	return &created, nil
}

// GetScanDetail fetches a scan and its vulnerabilities.
func (c *Client) GetScanDetail(ctx context.Context, id scan.ID) (*scan.Detail, error) {
	var detail scan.Detail
	if err := c.do(ctx, http.MethodGet, scanPath(id), nil, &detail); err != nil {
		return nil, err
	}

	return &detail, nil
}

// ReportURL returns the HTML report location. Nothing is fetched.
func (c *Client) ReportURL(id scan.ID) string {
	return c.baseURL + scanPath(id) + "/report"
}

func scanPath(id scan.ID) string {
	return scansPath + "/" + url.PathEscape(id.String())
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	target := c.baseURL + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}

		return &TransportError{Method: method, URL: target, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	c.logger.Debug("api response", "method", method, "url", target, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Detail: extractDetail(raw, resp.StatusCode)}
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		if isBodyTransportFailure(err) {
			return &TransportError{Method: method, URL: target, Err: err}
		}

		return fmt.Errorf("%w: %s %s: %w", ErrDecode, method, path, err)
	}

	return nil
}

// isBodyTransportFailure separates a connection dropped mid-body (or a
// client timeout while reading) from a well-formed but invalid payload.
func isBodyTransportFailure(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }

	return errors.As(err, &netErr) && netErr.Timeout()
}

type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

type validationItem struct {
	Msg string `json:"msg"`
}

func extractDetail(raw []byte, status int) string {
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil && len(eb.Detail) > 0 {
		var s string
		if json.Unmarshal(eb.Detail, &s) == nil && s != "" {
			return s
		}

		var items []validationItem
		if json.Unmarshal(eb.Detail, &items) == nil {
			msgs := make([]string, 0, len(items))
			for _, item := range items {
				if item.Msg != "" {
					msgs = append(msgs, item.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}

	text := strings.TrimSpace(string(raw))
	if text != "" && !strings.HasPrefix(text, "<") {
		if len(text) > maxDetailLength {
			text = text[:maxDetailLength]
		}
		return text
	}

	return http.StatusText(status)
}
