/*
Package db provides the storage abstraction of the development backend.
*/
package db

import (
	"context"
	"errors"

	"github.com/vigo/scanwatch/internal/scan"
)

// Manager defines database behaviours.
type Manager interface {
	InitDB() error
	Close() error
	CreateScan(ctx context.Context, targetURL string, scanType scan.Type) (*scan.Scan, error)
	ListScans(ctx context.Context) ([]scan.Scan, error)
	GetScan(ctx context.Context, id scan.ID) (*scan.Scan, error)
	UpdateStatus(ctx context.Context, id scan.ID, status scan.Status) error
	AddVulnerability(ctx context.Context, id scan.ID, v scan.Vulnerability) (scan.ID, error)
	Vulnerabilities(ctx context.Context, id scan.ID) ([]scan.Vulnerability, error)
}

// sentinel errors.
var (
	ErrValueRequired  = errors.New("value required")
	ErrNoRowsAffected = errors.New("no row(s) affected")
	ErrNotFound       = errors.New("not found")
)
