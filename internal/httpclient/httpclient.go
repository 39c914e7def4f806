/*
Package httpclient implements the bounded-timeout http client used to talk to
the scan backend.
*/
package httpclient

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var _ Doer = (*Client)(nil) // compile time proof

// defaults.
const (
	DefaultMaxIdleConns    = 10
	DefaultIdleConnTimeout = 30 * time.Second
	DefaultTimeout         = 10 * time.Second

	MaxIdleConnsMax    = 100
	IdleConnTimeoutMax = 90 * time.Second
	TimeoutMax         = 60 * time.Second

	UserAgent = "scanwatch/1.0"
)

// sentinel errors.
var (
	ErrInvalid = errors.New("invalid value")
)

// Doer is the subset of *http.Client the api client depends on.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client holds http client params.
type Client struct {
	HTTPClient         *http.Client
	MaxIdleConns       int
	IdleConnTimeout    time.Duration
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// Do sets the user agent and executes req.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", UserAgent)
	}

	return c.HTTPClient.Do(req)
}

func (c *Client) setDefaults() {
	if c.MaxIdleConns <= 0 || c.MaxIdleConns > MaxIdleConnsMax {
		c.MaxIdleConns = DefaultMaxIdleConns
	}
	if c.IdleConnTimeout <= 0 || c.IdleConnTimeout > IdleConnTimeoutMax {
		c.IdleConnTimeout = DefaultIdleConnTimeout
	}
	if c.Timeout <= 0 || c.Timeout > TimeoutMax {
		c.Timeout = DefaultTimeout
	}
}

// Option represents option function type.
type Option func(*Client) error

// WithMaxIdleConns sets MaxIdleConns.
func WithMaxIdleConns(n int) Option {
	return func(c *Client) error {
		if n <= 0 || n > MaxIdleConnsMax {
			return fmt.Errorf("%w, '%d' is not valid", ErrInvalid, n)
		}

		c.MaxIdleConns = n

		return nil
	}
}

// WithIdleConnTimeout sets IdleConnTimeout.
func WithIdleConnTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d < 0 {
			return fmt.Errorf("%w, '%d' must > 0", ErrInvalid, d)
		}

		if d > IdleConnTimeoutMax {
			return fmt.Errorf("%w, '%d' must < %d", ErrInvalid, d, IdleConnTimeoutMax)
		}

		c.IdleConnTimeout = d

		return nil
	}
}

// WithTimeout sets the per request timeout with a max limit.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 || d > TimeoutMax {
			return fmt.Errorf("%w: timeout must be between 1ns and %s, got %s", ErrInvalid, TimeoutMax, d)
		}
		c.Timeout = d
		return nil
	}
}

// WithInsecureSkipVerify disables TLS verification, for self-signed dev
// backends.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Client) error {
		c.InsecureSkipVerify = skip
		return nil
	}
}

// New instantiates new http client instance.
func New(options ...Option) (*Client, error) {
	client := new(Client)
	client.setDefaults()

	for _, option := range options {
		if err := option(client); err != nil {
			return nil, err
		}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = client.MaxIdleConns
	transport.IdleConnTimeout = client.IdleConnTimeout
	if client.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint
	}

	client.HTTPClient = &http.Client{
		Transport: transport,
		Timeout:   client.Timeout,
	}

	return client, nil
}
