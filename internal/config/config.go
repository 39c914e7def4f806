/*
Package config loads scanwatch settings from defaults, an optional yaml file,
a .env file and the environment, in that order.
*/
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/vigo/scanwatch/internal/httpclient"
	"gopkg.in/yaml.v3"
)

// defaults.
const (
	DefaultAPIURL         = "http://localhost:8000"
	DefaultListInterval   = 5 * time.Second
	DefaultPollInterval   = 3 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultReportDir      = "reports"

	MinInterval = 100 * time.Millisecond
)

// sentinel errors.
var (
	ErrInvalidAPIURL   = errors.New("invalid api url")
	ErrIntervalTooLow  = errors.New("interval too low")
	ErrTimeoutTooHigh  = errors.New("request timeout too high")
	ErrInvalidFailures = errors.New("max poll failures can not be negative")
)

// EnvPaths are the .env locations tried in order, first hit wins.
var EnvPaths = []string{".env", "../.env"}

// Config holds runtime settings.
type Config struct {
	APIURL          string        `yaml:"api_url"`
	NatsURL         string        `yaml:"nats_url"`
	ReportDir       string        `yaml:"report_dir"`
	LogLevel        string        `yaml:"log_level"`
	ListInterval    time.Duration `yaml:"list_interval"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxPollFailures int           `yaml:"max_poll_failures"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		APIURL:         DefaultAPIURL,
		ReportDir:      DefaultReportDir,
		ListInterval:   DefaultListInterval,
		PollInterval:   DefaultPollInterval,
		RequestTimeout: DefaultRequestTimeout,
	}
}

// Load builds the config. path is an optional yaml file; a missing file is
// an error only when path is set explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.readYAML(path); err != nil {
			return nil, err
		}
	}

	for _, p := range EnvPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) readYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if err = yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	return nil
}

func (c *Config) applyEnv() error {
	c.APIURL = getEnvOrDefault("SCANWATCH_API_URL", c.APIURL)
	c.NatsURL = getEnvOrDefault("SCANWATCH_NATS_URL", c.NatsURL)
	c.ReportDir = getEnvOrDefault("SCANWATCH_REPORT_DIR", c.ReportDir)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)

	durations := []struct {
		dst *time.Duration
		key string
	}{
		{&c.ListInterval, "SCANWATCH_LIST_INTERVAL"},
		{&c.PollInterval, "SCANWATCH_POLL_INTERVAL"},
		{&c.RequestTimeout, "SCANWATCH_REQUEST_TIMEOUT"},
	}

	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}

		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if v := os.Getenv("SCANWATCH_MAX_POLL_FAILURES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SCANWATCH_MAX_POLL_FAILURES: %w", err)
		}
		c.MaxPollFailures = n
	}

	return nil
}

// Validate checks the api url and interval floors.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidAPIURL, c.APIURL)
	}

	if c.ListInterval < MinInterval {
		return fmt.Errorf("%w: list interval %s", ErrIntervalTooLow, c.ListInterval)
	}
	if c.PollInterval < MinInterval {
		return fmt.Errorf("%w: poll interval %s", ErrIntervalTooLow, c.PollInterval)
	}
	if c.RequestTimeout < MinInterval {
		return fmt.Errorf("%w: request timeout %s", ErrIntervalTooLow, c.RequestTimeout)
	}
	if c.RequestTimeout > httpclient.TimeoutMax {
		return fmt.Errorf("%w: %s, max %s", ErrTimeoutTooHigh, c.RequestTimeout, httpclient.TimeoutMax)
	}

	if c.MaxPollFailures < 0 {
		return ErrInvalidFailures
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
