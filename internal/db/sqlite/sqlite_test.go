package sqlite_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vigo/scanwatch/internal/db"
	"github.com/vigo/scanwatch/internal/db/sqlite"
	"github.com/vigo/scanwatch/internal/scan"
)

func newDB(t *testing.T) *sqlite.DB {
	t.Helper()

	d, err := sqlite.New(sqlite.WithTargetSqliteFilename(filepath.Join(t.TempDir(), "test.sqlite3")))
	require.NoError(t, err)
	require.NoError(t, d.InitDB())
	t.Cleanup(func() { _ = d.Close() })

	return d
}

func TestNew_EmptyFilename(t *testing.T) {
	_, err := sqlite.New(sqlite.WithTargetSqliteFilename(""))

	assert.ErrorIs(t, err, db.ErrValueRequired)
}

func TestDB_ScanLifecycle(t *testing.T) {
	ctx := context.Background()
	d := newDB(t)

	first, err := d.CreateScan(ctx, "https://a.example", scan.TypeQuick)
	require.NoError(t, err)
	second, err := d.CreateScan(ctx, "https://b.example", scan.TypeFull)
	require.NoError(t, err)

	assert.Equal(t, scan.StatusPending, first.Status)
	assert.NotEqual(t, first.ID, second.ID)

	scans, err := d.ListScans(ctx)
	require.NoError(t, err)
	require.Len(t, scans, 2)
	assert.Equal(t, second.ID, scans[0].ID, "newest first")

	require.NoError(t, d.UpdateStatus(ctx, first.ID, scan.StatusRunning))
	got, err := d.GetScan(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, scan.StatusRunning, got.Status)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, d.UpdateStatus(ctx, first.ID, scan.StatusCompleted))
	got, err = d.GetScan(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.False(t, got.CompletedAt.Before(got.CreatedAt.Time))
}

func TestDB_Vulnerabilities(t *testing.T) {
	ctx := context.Background()
	d := newDB(t)

	s, err := d.CreateScan(ctx, "https://example.com", scan.TypeFull)
	require.NoError(t, err)

	_, err = d.AddVulnerability(ctx, s.ID, scan.Vulnerability{
		Title: "Missing CSP", Severity: scan.SeverityHigh, CVSSScore: 6.1, Type: "headers",
		Evidence: json.RawMessage(`{"header":"Content-Security-Policy"}`),
	})
	require.NoError(t, err)
	_, err = d.AddVulnerability(ctx, s.ID, scan.Vulnerability{Title: "Server banner", Severity: scan.SeverityLow, Type: "version"})
	require.NoError(t, err)

	vulns, err := d.Vulnerabilities(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, vulns, 2)
	assert.Equal(t, "Missing CSP", vulns[0].Title)
	assert.JSONEq(t, `{"header":"Content-Security-Policy"}`, string(vulns[0].Evidence))
	assert.Nil(t, vulns[1].Evidence)
}

func TestDB_NotFound(t *testing.T) {
	ctx := context.Background()
	d := newDB(t)

	_, err := d.GetScan(ctx, "99")
	assert.ErrorIs(t, err, db.ErrNotFound)

	_, err = d.GetScan(ctx, "not-a-number")
	assert.ErrorIs(t, err, db.ErrNotFound)

	assert.ErrorIs(t, d.UpdateStatus(ctx, "99", scan.StatusRunning), db.ErrNoRowsAffected)
}
