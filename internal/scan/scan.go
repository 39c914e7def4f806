/*
Package scan defines the scan and vulnerability model shared by the client
components.
*/
package scan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// sentinel errors.
var (
	ErrInvalidType   = errors.New("invalid scan type")
	ErrInvalidTarget = errors.New("invalid target url")
	ErrInvalidID     = errors.New("invalid scan id")
)

// ID is the opaque scan identifier. The backend may send it as a JSON
// string or number.
type ID string

// UnmarshalJSON accepts both `"42"` and `42`.
func (i *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*i = ID(s)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidID, b)
	}
	*i = ID(n.String())

	return nil
}

func (i ID) String() string { return string(i) }

// Type is the requested scan depth.
type Type string

// scan types.
const (
	TypeQuick Type = "quick"
	TypeFull  Type = "full"

	DefaultType = TypeFull
)

// ParseType validates a user supplied scan type.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeQuick, TypeFull:
		return t, nil
	case "":
		return DefaultType, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
}

// Status is the lifecycle state reported by the backend.
type Status string

// scan statuses.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Rank orders statuses along the lifecycle. Unknown statuses rank -1.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// IsTerminal reports whether no further transition is expected.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Regresses reports whether moving from -> to would go backwards.
func Regresses(from, to Status) bool {
	fr, tr := from.Rank(), to.Rank()
	if fr < 0 || tr < 0 {
		return false
	}

	return tr < fr
}

// Severity of a vulnerability.
type Severity string

// severities.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Timestamp decodes both RFC3339 and zone-less ISO-8601 values. Zone-less
// values are taken as UTC.
type Timestamp struct {
	time.Time
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}

	for _, layout := range zonelessLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}

	return fmt.Errorf("unsupported timestamp %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// Scan represents one requested assessment of a target URL.
type Scan struct {
	CompletedAt *Timestamp `json:"completed_at,omitempty"`
	CreatedAt   Timestamp  `json:"created_at"`
	ID          ID         `json:"id"`
	TargetURL   string     `json:"target_url"`
	Type        Type       `json:"scan_type"`
	Status      Status     `json:"status"`
}

// Vulnerability is a finding reported for a scan.
type Vulnerability struct {
	Evidence       json.RawMessage `json:"evidence,omitempty"`
	ID             ID              `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Severity       Severity        `json:"severity"`
	Type           string          `json:"vulnerability_type"`
	Recommendation string          `json:"recommendation"`
	CVSSScore      float64         `json:"cvss_score"`
}

// Detail is a scan plus its vulnerabilities in backend order.
type Detail struct {
	Scan
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
}

// Counts holds the number of vulnerabilities per severity.
type Counts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

// SeverityCounts tallies vulnerabilities per severity.
func (d *Detail) SeverityCounts() Counts {
	var c Counts
	for _, v := range d.Vulnerabilities {
		switch Severity(strings.ToLower(string(v.Severity))) {
		case SeverityCritical:
			c.Critical++
		case SeverityHigh:
			c.High++
		case SeverityMedium:
			c.Medium++
		case SeverityLow:
			c.Low++
		case SeverityInfo:
			c.Info++
		}
		c.Total++
	}

	return c
}

// ValidateTarget checks that raw is an absolute http(s) URL.
func ValidateTarget(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTarget)
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q must be an absolute http(s) url", ErrInvalidTarget, s)
	}

	return s, nil
}

// FormatID renders an integer id the way the backend does.
func FormatID(n int64) ID {
	return ID(strconv.FormatInt(n, 10))
}
