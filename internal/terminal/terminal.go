/*
Package terminal renders view snapshots as colored text.
*/
package terminal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/vigo/scanwatch/internal/poller"
	"github.com/vigo/scanwatch/internal/scan"
	"github.com/vigo/scanwatch/internal/view"
)

const timeLayout = "2006-01-02 15:04:05"

var (
	bannerColor  = color.New(color.FgRed, color.Bold)
	headerColor  = color.New(color.FgCyan, color.Bold)
	dimColor     = color.New(color.Faint)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	successColor = color.New(color.FgGreen)
)

// StatusColor picks a color for status.
func StatusColor(s scan.Status) *color.Color {
	switch s {
	case scan.StatusCompleted:
		return successColor
	case scan.StatusFailed:
		return errorColor
	case scan.StatusRunning:
		return color.New(color.FgBlue)
	default:
		return warnColor
	}
}

// SeverityColor picks a color for severity.
func SeverityColor(s scan.Severity) *color.Color {
	switch scan.Severity(strings.ToLower(string(s))) {
	case scan.SeverityCritical:
		return color.New(color.FgMagenta, color.Bold)
	case scan.SeverityHigh:
		return errorColor
	case scan.SeverityMedium:
		return warnColor
	case scan.SeverityLow:
		return color.New(color.FgBlue)
	default:
		return dimColor
	}
}

// Render writes snap to w.
func Render(w io.Writer, snap view.Snapshot) {
	if snap.Banner != "" {
		bannerColor.Fprintf(w, "! %s\n\n", snap.Banner)
	}

	switch snap.Kind {
	case view.KindDetail:
		renderDetail(w, snap.ScanID, snap.Detail)
	default:
		RenderList(w, snap.Scans)
	}

	if snap.FormError != "" {
		warnColor.Fprintf(w, "\nsubmit failed: %s\n", snap.FormError)
	}
}

// RenderList writes the scan table.
func RenderList(w io.Writer, scans []scan.Scan) {
	headerColor.Fprintf(w, "Scans (%d)\n", len(scans))

	if len(scans) == 0 {
		dimColor.Fprintln(w, "no scans yet")
		return
	}

	fmt.Fprintf(w, "%-6s %-10s %-6s %-20s %s\n", "ID", "STATUS", "TYPE", "CREATED", "TARGET")
	for _, s := range scans {
		fmt.Fprintf(w, "%-6s ", s.ID)
		StatusColor(s.Status).Fprintf(w, "%-10s", s.Status)
		fmt.Fprintf(w, " %-6s %-20s %s\n", s.Type, formatTime(s.CreatedAt), s.TargetURL)
	}
}

func renderDetail(w io.Writer, id scan.ID, st *poller.State) {
	headerColor.Fprintf(w, "Scan %s\n", id)

	if st == nil || (st.Detail == nil && st.Phase == poller.PhaseLoading && st.Err == nil) {
		dimColor.Fprintln(w, "loading...")
		return
	}

	if st.Detail != nil {
		RenderDetail(w, *st.Detail)
	}

	switch {
	case st.Phase == poller.PhaseError:
		errorColor.Fprintf(w, "\nerror: %v\n", st.Err)
		dimColor.Fprintln(w, "type 'retry' to try again")
	case st.Err != nil && st.Detail == nil:
		errorColor.Fprintf(w, "\ncould not load scan (%d attempts): %v\n", st.Failures, st.Err)
		dimColor.Fprintln(w, "still retrying, type 'retry' to restart or 'back' to leave")
	case st.Err != nil:
		warnColor.Fprintf(w, "\nlast refresh failed (%d in a row): %v\n", st.Failures, st.Err)
	case !st.Terminal:
		dimColor.Fprintln(w, "\nwatching for updates...")
	}
}

// RenderDetail writes one scan with its findings.
func RenderDetail(w io.Writer, d scan.Detail) {
	fmt.Fprintf(w, "target:    %s\n", d.TargetURL)
	fmt.Fprintf(w, "type:      %s\n", d.Type)
	fmt.Fprint(w, "status:    ")
	StatusColor(d.Status).Fprintln(w, d.Status)
	fmt.Fprintf(w, "created:   %s\n", formatTime(d.CreatedAt))
	if d.CompletedAt != nil {
		fmt.Fprintf(w, "completed: %s\n", formatTime(*d.CompletedAt))
	}

	c := d.SeverityCounts()
	fmt.Fprintf(w, "\nfindings:  %d (", c.Total)
	SeverityColor(scan.SeverityCritical).Fprintf(w, "critical %d", c.Critical)
	fmt.Fprint(w, ", ")
	SeverityColor(scan.SeverityHigh).Fprintf(w, "high %d", c.High)
	fmt.Fprint(w, ", ")
	SeverityColor(scan.SeverityMedium).Fprintf(w, "medium %d", c.Medium)
	fmt.Fprint(w, ", ")
	SeverityColor(scan.SeverityLow).Fprintf(w, "low %d", c.Low)
	fmt.Fprint(w, ", ")
	SeverityColor(scan.SeverityInfo).Fprintf(w, "info %d", c.Info)
	fmt.Fprintln(w, ")")

	for _, v := range d.Vulnerabilities {
		fmt.Fprint(w, "  ")
		SeverityColor(v.Severity).Fprintf(w, "[%s]", strings.ToUpper(string(v.Severity)))
		fmt.Fprintf(w, " %s", v.Title)
		if v.CVSSScore > 0 {
			fmt.Fprintf(w, " (cvss %.1f)", v.CVSSScore)
		}
		fmt.Fprintln(w)
		if v.Recommendation != "" {
			dimColor.Fprintf(w, "      fix: %s\n", v.Recommendation)
		}
		if ev := formatEvidence(v.Evidence); ev != "" {
			dimColor.Fprintln(w, "      evidence:")
			dimColor.Fprintln(w, ev)
		}
	}
}

// formatEvidence pretty prints raw evidence indented under a finding. Empty
// and null evidence render as nothing.
func formatEvidence(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}

	const indent = "        "

	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, indent, "  "); err != nil {
		return indent + string(trimmed)
	}

	return indent + buf.String()
}

func formatTime(t scan.Timestamp) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}
