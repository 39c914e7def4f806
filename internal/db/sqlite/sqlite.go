/*
Package sqlite implements sqlite database operations.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite embedded
	"github.com/vigo/scanwatch/internal/db"
	"github.com/vigo/scanwatch/internal/scan"
)

var _ db.Manager = (*DB)(nil) // compile time proof

// DB holds sqlite related params.
type DB struct {
	DB                   *sql.DB
	TargetSqliteFilename string
}

// InitDB creates initial sqlite tables.
func (d *DB) InitDB() error {
	query := `CREATE TABLE IF NOT EXISTS scans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target_url TEXT NOT NULL,
		scan_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_scans_created_at ON scans (created_at);
	CREATE TABLE IF NOT EXISTS vulnerabilities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_id INTEGER NOT NULL REFERENCES scans(id),
		title TEXT,
		description TEXT,
		severity TEXT,
		cvss_score REAL,
		vulnerability_type TEXT,
		recommendation TEXT,
		evidence JSON,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_vulnerabilities_scan_id ON vulnerabilities (scan_id);`
	_, err := d.DB.Exec(query)

	return err
}

// Close closes the database.
func (d *DB) Close() error {
	return d.DB.Close()
}

// CreateScan inserts a pending scan.
func (d *DB) CreateScan(ctx context.Context, targetURL string, scanType scan.Type) (*scan.Scan, error) {
	if targetURL == "" {
		return nil, fmt.Errorf("%w, target url can not be empty", db.ErrValueRequired)
	}

	now := time.Now().UTC()
	res, err := d.DB.ExecContext(ctx,
		"INSERT INTO scans (target_url, scan_type, status, created_at) VALUES (?, ?, ?, ?)",
		targetURL, scanType, scan.StatusPending, now,
	)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &scan.Scan{
		ID:        scan.FormatID(id),
		TargetURL: targetURL,
		Type:      scanType,
		Status:    scan.StatusPending,
		CreatedAt: scan.NewTimestamp(now),
	}, nil
}

// ListScans returns every scan, newest first.
func (d *DB) ListScans(ctx context.Context) ([]scan.Scan, error) {
	rows, err := d.DB.QueryContext(ctx,
		"SELECT id, target_url, scan_type, status, created_at, completed_at FROM scans ORDER BY created_at DESC, id DESC",
	)
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

	row := d.DB.QueryRowContext(ctx,
		"SELECT id, target_url, scan_type, status, created_at, completed_at FROM scans WHERE id = ?", key,
	)

	s, err := scanRow(row)
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

	var completedAt sql.NullTime
	if status.IsTerminal() {
		completedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}

	res, err := d.DB.ExecContext(ctx, "UPDATE scans SET status = ?, completed_at = ? WHERE id = ?", status, completedAt, key)
	if err != nil {
		return err
	}

	return requireAffected(res)
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

	res, err := d.DB.ExecContext(ctx,
		`INSERT INTO vulnerabilities (scan_id, title, description, severity, cvss_score, vulnerability_type, recommendation, evidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key, v.Title, v.Description, v.Severity, v.CVSSScore, v.Type, v.Recommendation, evidence,
	)
	if err != nil {
		return "", err
	}

	vid, err := res.LastInsertId()
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
		`SELECT id, title, description, severity, cvss_score, vulnerability_type, recommendation, evidence
		FROM vulnerabilities WHERE scan_id = ? ORDER BY id`, key,
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
			evidence sql.NullString
		)
		if err = rows.Scan(&vid, &v.Title, &v.Description, &v.Severity, &v.CVSSScore, &v.Type, &v.Recommendation, &evidence); err != nil {
			return nil, err
		}
		v.ID = scan.FormatID(vid)
		if evidence.Valid && evidence.String != "" {
			v.Evidence = []byte(evidence.String)
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

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return db.ErrNoRowsAffected
	}

	return nil
}

func (d *DB) setDefaults() {
	if d.TargetSqliteFilename == "" {
		d.TargetSqliteFilename = "scanwatch-dev.sqlite3"
	}
}

// Option represents option function type.
type Option func(*DB) error

// WithTargetSqliteFilename sets sqlite filename for creation.
func WithTargetSqliteFilename(s string) Option {
	return func(d *DB) error {
		if s == "" {
			return fmt.Errorf("%w, target filename can not be empty string", db.ErrValueRequired)
		}

		d.TargetSqliteFilename = s

		return nil
	}
}

// New instantiates new database instance.
func New(options ...Option) (*DB, error) {
	d := new(DB)
	for _, option := range options {
		if err := option(d); err != nil {
			return nil, err
		}
	}

	d.setDefaults()

	sqliteDB, err := sql.Open("sqlite3", d.TargetSqliteFilename+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	sqliteDB.SetMaxOpenConns(1)
	d.DB = sqliteDB

	return d, nil
}
