package availability

import (
	"context"

	"github.com/vigo/scanwatch/internal/apiclient"
	"github.com/vigo/scanwatch/internal/scan"
)

var _ apiclient.API = (*Client)(nil) // compile time proof

// Client routes every api call through a Monitor. CreateScan is refused
// locally while the backend is unavailable.
type Client struct {
	api     apiclient.API
	monitor *Monitor
}

// Wrap decorates api with m.
func Wrap(api apiclient.API, m *Monitor) *Client {
	return &Client{api: api, monitor: m}
}

// Monitor returns the underlying monitor.
func (c *Client) Monitor() *Monitor { return c.monitor }

// ListScans implements apiclient.API.
func (c *Client) ListScans(ctx context.Context) ([]scan.Scan, error) {
	var scans []scan.Scan
	err := c.monitor.Guard(ctx, func(ctx context.Context) error {
		var err error
		scans, err = c.api.ListScans(ctx)
		return err
	})

	return scans, err
}

// CreateScan implements apiclient.API.
func (c *Client) CreateScan(ctx context.Context, targetURL string, scanType scan.Type) (*scan.Scan, error) {
	if err := c.monitor.Require(); err != nil {
		return nil, err
	}

	var created *scan.Scan
	err := c.monitor.Guard(ctx, func(ctx context.Context) error {
		var err error
		created, err = c.api.CreateScan(ctx, targetURL, scanType)
		return err
	})

	return created, err
}

// GetScanDetail implements apiclient.API.
func (c *Client) GetScanDetail(ctx context.Context, id scan.ID) (*scan.Detail, error) {
	var detail *scan.Detail
	err := c.monitor.Guard(ctx, func(ctx context.Context) error {
		var err error
		detail, err = c.api.GetScanDetail(ctx, id)
		return err
	})

	return detail, err
}

// ReportURL implements apiclient.API.
func (c *Client) ReportURL(id scan.ID) string {
	return c.api.ReportURL(id)
}
