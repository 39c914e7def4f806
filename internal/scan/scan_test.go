package scan_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vigo/scanwatch/internal/scan"
)

func TestScan_DecodeBackendPayload(t *testing.T) {
	payload := `{
		"id": 7,
		"target_url": "https://example.com",
		"status": "completed",
		"created_at": "2025-03-01T10:00:00.123456",
		"completed_at": "2025-03-01T10:05:00Z",
		"scan_type": "quick"
	}`

	var s scan.Scan
	require.NoError(t, json.Unmarshal([]byte(payload), &s))

	assert.Equal(t, scan.ID("7"), s.ID)
	assert.Equal(t, scan.TypeQuick, s.Type)
	assert.Equal(t, scan.StatusCompleted, s.Status)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 123456000, time.UTC), s.CreatedAt.Time)
	require.NotNil(t, s.CompletedAt)
	assert.Equal(t, 5*time.Minute, s.CompletedAt.Sub(s.CreatedAt.Time).Round(time.Minute))
}

func TestScan_DecodeNullCompletedAt(t *testing.T) {
	var s scan.Scan
	err := json.Unmarshal([]byte(`{"id":"abc","status":"pending","created_at":"2025-03-01T10:00:00Z","completed_at":null}`), &s)

	require.NoError(t, err)
	assert.Equal(t, scan.ID("abc"), s.ID)
	assert.Nil(t, s.CompletedAt)
}

func TestID_RejectsNull(t *testing.T) {
	var id scan.ID
	err := json.Unmarshal([]byte(`null`), &id)

	assert.ErrorIs(t, err, scan.ErrInvalidID)
}

func TestStatus_Regresses(t *testing.T) {
	tests := []struct {
		name string
		from scan.Status
		to   scan.Status
		want bool
	}{
		{"pending to running", scan.StatusPending, scan.StatusRunning, false},
		{"running to completed", scan.StatusRunning, scan.StatusCompleted, false},
		{"same status", scan.StatusRunning, scan.StatusRunning, false},
		{"running to pending", scan.StatusRunning, scan.StatusPending, true},
		{"completed to running", scan.StatusCompleted, scan.StatusRunning, true},
		{"failed to pending", scan.StatusFailed, scan.StatusPending, true},
		{"unknown is never a regression", scan.Status("queued"), scan.StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scan.Regresses(tt.from, tt.to))
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, scan.StatusPending.IsTerminal())
	assert.False(t, scan.StatusRunning.IsTerminal())
	assert.True(t, scan.StatusCompleted.IsTerminal())
	assert.True(t, scan.StatusFailed.IsTerminal())
}

func TestDetail_SeverityCounts(t *testing.T) {
	d := scan.Detail{
		Vulnerabilities: []scan.Vulnerability{
			{Severity: scan.SeverityHigh},
			{Severity: scan.SeverityLow},
			{Severity: "HIGH"},
			{Severity: scan.SeverityInfo},
		},
	}

	assert.Equal(t, scan.Counts{High: 2, Low: 1, Info: 1, Total: 4}, d.SeverityCounts())
}

func TestParseType(t *testing.T) {
	typ, err := scan.ParseType("Quick")
	require.NoError(t, err)
	assert.Equal(t, scan.TypeQuick, typ)

	typ, err = scan.ParseType("")
	require.NoError(t, err)
	assert.Equal(t, scan.TypeFull, typ)

	_, err = scan.ParseType("custom")
	assert.ErrorIs(t, err, scan.ErrInvalidType)
}

func TestValidateTarget(t *testing.T) {
	got, err := scan.ValidateTarget("  https://example.com/app ")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/app", got)

	for _, raw := range []string{"", "example.com", "ftp://example.com", "https://"} {
		_, err = scan.ValidateTarget(raw)
		assert.ErrorIs(t, err, scan.ErrInvalidTarget, raw)
	}
}
