/*
Package postgresql implements PostgreSQL database operations.
*/
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/vigo/scanwatch/internal/db"
	"github.com/vigo/scanwatch/internal/scan"
)

var _ db.Manager = (*DB)(nil) // Compile-time check

const scanColumns = `"id", "target_url", "scan_type", "status", "created_at", "completed_at"`

// DB holds PostgreSQL related parameters.
type DB struct {
	*sql.DB
	DSN string
}

// InitDB creates the PostgreSQL tables.
// You need to `createdb` manually!
func (d *DB) InitDB() error {
	query := `CREATE TABLE IF NOT EXISTS "scans" (
		"id" BIGSERIAL PRIMARY KEY,
		"target_url" TEXT NOT NULL,
		"scan_type" VARCHAR(16) NOT NULL,
		"status" VARCHAR(16) NOT NULL DEFAULT 'pending',
		"created_at" TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		"completed_at" TIMESTAMPTZ
	);
	CREATE TABLE IF NOT EXISTS "vulnerabilities" (
		"id" BIGSERIAL PRIMARY KEY,
		"scan_id" BIGINT NOT NULL REFERENCES "scans"("id") ON DELETE CASCADE,
		"title" TEXT NOT NULL DEFAULT '',
		"description" TEXT NOT NULL DEFAULT '',
		"severity" VARCHAR(16) NOT NULL,
		"cvss_score" DOUBLE PRECISION NOT NULL DEFAULT 0,
		"vulnerability_type" VARCHAR(64) NOT NULL DEFAULT '',
		"recommendation" TEXT NOT NULL DEFAULT '',
		"evidence" JSONB,
		"created_at" TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS "idx_vulnerabilities_scan_id" ON "vulnerabilities" ("scan_id");`
	_, err := d.DB.Exec(query)
	return err
}

// GetDB returns the underlying sql.DB instance.
func (d *DB) GetDB() *sql.DB {
	return d.DB
}

// CreateScan inserts a pending scan.
func (d *DB) CreateScan(ctx context.Context, targetURL string, scanType scan.Type) (*scan.Scan, error) {
	if targetURL == "" {
		return nil, fmt.Errorf("%w, target url cannot be empty", db.ErrValueRequired)
	}

	row := d.DB.QueryRowContext(ctx,
		`INSERT INTO "scans" ("target_url", "scan_type", "status") VALUES ($1, $2, $3) RETURNING `+scanColumns,
		targetURL, scanType, scan.StatusPending,
	)

	return scanRow(row)
}

// ListScans returns every scan, newest first.
func (d *DB) ListScans(ctx context.Context) ([]scan.Scan, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT `+scanColumns+` FROM "scans" ORDER BY "created_at" DESC, "id" DESC`)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	results := []scan.Scan{}
	for rows.Next() {
		s, errr := scanRow(rows)
		if errr != nil {
			return nil, errr
		}
		results = append(results, *s)
	}

	return results, rows.Err()
}

// GetScan returns one scan.
func (d *DB) GetScan(ctx context.Context, id scan.ID) (*scan.Scan, error) {
	key, err := rowID(id)
	if err != nil {
		return nil, err
	}

	s, err := scanRow(d.DB.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM "scans" WHERE "id" = $1`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: scan %s", db.ErrNotFound, id)
	}

	return s, err
}

// UpdateStatus sets status, and completed_at for terminal statuses.
func (d *DB) UpdateStatus(ctx context.Context, id scan.ID, status scan.Status) error {
	key, err := rowID(id)
	if err != nil {
		return err
	}

	res, err := d.DB.ExecContext(ctx,
		`UPDATE "scans" SET "status" = $1, "completed_at" = CASE WHEN $2 THEN NOW() ELSE NULL END WHERE "id" = $3`,
		status, status.IsTerminal(), key,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return db.ErrNoRowsAffected
	}

	return nil
}

// AddVulnerability stores a finding for scan id.
func (d *DB) AddVulnerability(ctx context.Context, id scan.ID, v scan.Vulnerability) (scan.ID, error) {
	key, err := rowID(id)
	if err != nil {
		return "", err
	}

	var evidence any
	if len(v.Evidence) > 0 {
		evidence = string(v.Evidence)
	}

	var vid int64
	err = d.DB.QueryRowContext(ctx,
		`INSERT INTO "vulnerabilities"
		("scan_id", "title", "description", "severity", "cvss_score", "vulnerability_type", "recommendation", "evidence")
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING "id"`,
		key, v.Title, v.Description, v.Severity, v.CVSSScore, v.Type, v.Recommendation, evidence,
	).Scan(&vid)
	if err != nil {
		return "", err
	}

	return scan.FormatID(vid), nil
}

// Vulnerabilities returns the findings of scan id in insertion order.
func (d *DB) Vulnerabilities(ctx context.Context, id scan.ID) ([]scan.Vulnerability, error) {
	key, err := rowID(id)
	if err != nil {
		return nil, err
	}

	rows, err := d.DB.QueryContext(ctx,
		`SELECT "id", "title", "description", "severity", "cvss_score", "vulnerability_type", "recommendation", "evidence"
		FROM "vulnerabilities" WHERE "scan_id" = $1 ORDER BY "id"`, key,
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	results := []scan.Vulnerability{}
	for rows.Next() {
		var (
			v        scan.Vulnerability
			vid      int64
			evidence []byte
		)
		if err = rows.Scan(&vid, &v.Title, &v.Description, &v.Severity, &v.CVSSScore, &v.Type, &v.Recommendation, &evidence); err != nil {
			return nil, err
		}
		v.ID = scan.FormatID(vid)
		if len(evidence) > 0 {
			v.Evidence = evidence
		}
		results = append(results, v)
	}

	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(r rowScanner) (*scan.Scan, error) {
	var (
		s           scan.Scan
		id          int64
		createdAt   time.Time
		completedAt sql.NullTime
	)

	if err := r.Scan(&id, &s.TargetURL, &s.Type, &s.Status, &createdAt, &completedAt); err != nil {
		return nil, err
	}

	s.ID = scan.FormatID(id)
	s.CreatedAt = scan.NewTimestamp(createdAt)
	if completedAt.Valid {
		ts := scan.NewTimestamp(completedAt.Time)
		s.CompletedAt = &ts
	}

	return &s, nil
}

func rowID(id scan.ID) (int64, error) {
	n, err := strconv.ParseInt(id.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: scan %q", db.ErrNotFound, id)
	}

	return n, nil
}

// Option represents option function type.
type Option func(*DB) error

// WithDSN sets the PostgreSQL DSN.
func WithDSN(dsn string) Option {
	return func(d *DB) error {
		if dsn == "" {
			return fmt.Errorf("%w, dsn cannot be empty", db.ErrValueRequired)
		}

		d.DSN = dsn

		return nil
	}
}

// New initializes a new PostgreSQL database instance. DATABASE_URL is used
// when no DSN option is given.
func New(options ...Option) (*DB, error) {
	dbase := new(DB)
	for _, option := range options {
		if err := option(dbase); err != nil {
			return nil, err
		}
	}

	if dbase.DSN == "" {
		dbase.DSN = os.Getenv("DATABASE_URL")
	}
	if dbase.DSN == "" {
		return nil, fmt.Errorf("%w, dsn cannot be empty", db.ErrValueRequired)
	}

	pgDB, err := sql.Open("postgres", dbase.DSN)
	if err != nil {
		return nil, err
	}
	dbase.DB = pgDB

	return dbase, nil
}
