package eventbus_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vigo/scanwatch/internal/eventbus"
	"github.com/vigo/scanwatch/internal/scan"
)

func TestNilPublisherIsNoop(t *testing.T) {
	var p *eventbus.Publisher

	assert.NoError(t, p.PublishAvailability(false))
	assert.NoError(t, p.PublishScanFinished(scan.Detail{}))
	assert.False(t, p.IsConnected())
	assert.NotPanics(t, func() {
		p.AvailabilityListener()(true)
		p.FinishedListener()(scan.Detail{})
		p.Close()
	})
}

func TestAvailabilityPayload(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	data, err := eventbus.AvailabilityPayload(true, at)
	require.NoError(t, err)
	assert.JSONEq(t, `{"available":true,"at":"2024-05-01T10:00:00Z"}`, string(data))
}

func TestScanFinishedPayload(t *testing.T) {
	d := scan.Detail{
		Scan: scan.Scan{
			ID:        "7",
			TargetURL: "https://example.com",
			Status:    scan.StatusCompleted,
		},
		Vulnerabilities: []scan.Vulnerability{
			{Severity: scan.SeverityHigh},
			{Severity: scan.SeverityHigh},
			{Severity: scan.SeverityLow},
		},
	}

	data, err := eventbus.ScanFinishedPayload(d, time.Now())
	require.NoError(t, err)

	var ev eventbus.ScanFinishedEvent
	require.NoError(t, json.Unmarshal(data, &ev))

	assert.Equal(t, scan.ID("7"), ev.ID)
	assert.Equal(t, scan.StatusCompleted, ev.Status)
	assert.Equal(t, "https://example.com", ev.TargetURL)
	assert.Equal(t, 2, ev.Counts.High)
	assert.Equal(t, 1, ev.Counts.Low)
}
