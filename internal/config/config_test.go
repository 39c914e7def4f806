package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vigo/scanwatch/internal/config"
	"github.com/vigo/scanwatch/internal/httpclient"
)

var envKeys = []string{
	"SCANWATCH_API_URL",
	"SCANWATCH_NATS_URL",
	"SCANWATCH_REPORT_DIR",
	"SCANWATCH_LIST_INTERVAL",
	"SCANWATCH_POLL_INTERVAL",
	"SCANWATCH_REQUEST_TIMEOUT",
	"SCANWATCH_MAX_POLL_FAILURES",
	"LOG_LEVEL",
}

// isolate runs the test in an empty dir with scanwatch env cleared.
func isolate(t *testing.T) string {
	t.Helper()

	for _, k := range envKeys {
		t.Setenv(k, "")
	}

	dir := t.TempDir()
	t.Chdir(dir)

	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, config.DefaultAPIURL, cfg.APIURL)
	assert.Equal(t, 5*time.Second, cfg.ListInterval)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "reports", cfg.ReportDir)
	assert.Zero(t, cfg.MaxPollFailures)
	assert.Empty(t, cfg.NatsURL)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := isolate(t)

	path := filepath.Join(dir, "scanwatch.yaml")
	content := "api_url: http://scanner:9000\nlist_interval: 2s\nmax_poll_failures: 4\nreport_dir: out\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("SCANWATCH_LIST_INTERVAL", "750ms")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://scanner:9000", cfg.APIURL)
	assert.Equal(t, 750*time.Millisecond, cfg.ListInterval)
	assert.Equal(t, 4, cfg.MaxPollFailures)
	assert.Equal(t, "out", cfg.ReportDir)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)

	// godotenv never overrides a variable that is present, even when empty.
	require.NoError(t, os.Unsetenv("SCANWATCH_NATS_URL"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("SCANWATCH_NATS_URL=nats://localhost:4222\n"), 0o600))

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", cfg.NatsURL)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	dir := isolate(t)

	_, err := config.Load(filepath.Join(dir, "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidEnv(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"SCANWATCH_POLL_INTERVAL", "soon"},
		{"SCANWATCH_MAX_POLL_FAILURES", "many"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			isolate(t)
			t.Setenv(tt.key, tt.value)

			_, err := config.Load("")
			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   error
	}{
		{"ok", func(*config.Config) {}, nil},
		{"relative url", func(c *config.Config) { c.APIURL = "/api" }, config.ErrInvalidAPIURL},
		{"ftp url", func(c *config.Config) { c.APIURL = "ftp://x" }, config.ErrInvalidAPIURL},
		{"list interval", func(c *config.Config) { c.ListInterval = time.Millisecond }, config.ErrIntervalTooLow},
		{"poll interval", func(c *config.Config) { c.PollInterval = 0 }, config.ErrIntervalTooLow},
		{"failures", func(c *config.Config) { c.MaxPollFailures = -1 }, config.ErrInvalidFailures},
		{"timeout above client max", func(c *config.Config) { c.RequestTimeout = 90 * time.Second }, config.ErrTimeoutTooHigh},
		{"timeout at client max", func(c *config.Config) { c.RequestTimeout = httpclient.TimeoutMax }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoad_TimeoutAcceptedByHTTPClient(t *testing.T) {
	isolate(t)
	t.Setenv("SCANWATCH_REQUEST_TIMEOUT", "90s")

	_, err := config.Load("")
	require.ErrorIs(t, err, config.ErrTimeoutTooHigh)

	t.Setenv("SCANWATCH_REQUEST_TIMEOUT", "45s")
	cfg, err := config.Load("")
	require.NoError(t, err)

	_, err = httpclient.New(httpclient.WithTimeout(cfg.RequestTimeout))
	assert.NoError(t, err)
}
