package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/vigo/scanwatch/internal/poller"
	"github.com/vigo/scanwatch/internal/scan"
	"github.com/vigo/scanwatch/internal/view"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		cmd  string
		args []string
	}{
		{"", "", nil},
		{"   ", "", nil},
		{"BACK", "back", []string{}},
		{"new https://example.com quick", "new", []string{"https://example.com", "quick"}},
		{"  open   3 ", "open", []string{"3"}},
	}

	for _, tt := range tests {
		cmd, args := parseLine(tt.line)
		assert.Equal(t, tt.cmd, cmd, tt.line)
		assert.Equal(t, tt.args, args, tt.line)
	}
}

func TestResolveScan(t *testing.T) {
	scans := []scan.Scan{{ID: "12"}, {ID: "2"}, {ID: "7"}}

	tests := []struct {
		arg  string
		want scan.ID
		ok   bool
	}{
		{"12", "12", true},
		{"2", "2", true},
		{"1", "12", true},
		{"3", "7", true},
		{"4", "", false},
		{"0", "", false},
		{"abc", "", false},
	}

	for _, tt := range tests {
		got, ok := resolveScan(scans, tt.arg)
		assert.Equal(t, tt.ok, ok, tt.arg)
		assert.Equal(t, tt.want, got.ID, tt.arg)
	}
}

func TestScreenSkipsUnchangedFrames(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	scr := &screen{w: &buf}

	snap := view.Snapshot{Kind: view.KindList, Available: true, Scans: []scan.Scan{{ID: "1"}}}
	scr.draw(snap, false)
	first := buf.Len()
	assert.Positive(t, first)

	scr.draw(snap, false)
	assert.Equal(t, first, buf.Len())

	scr.draw(snap, true)
	assert.Greater(t, buf.Len(), first)

	snap.Scans = append(snap.Scans, scan.Scan{ID: "2"})
	before := buf.Len()
	scr.draw(snap, false)
	assert.Greater(t, buf.Len(), before)
}

func TestAppCommands(t *testing.T) {
	app := newApp()

	names := make([]string, 0, len(app.Commands))
	for _, c := range app.Commands {
		names = append(names, c.Name)
	}

	assert.ElementsMatch(t, []string{"watch", "list", "submit", "show", "report"}, names)
}

func TestProgressPrintsEveryStatusChange(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	prog := &progress{w: &buf}

	detail := func(st scan.Status) *scan.Detail {
		return &scan.Detail{Scan: scan.Scan{ID: "1", Status: st}}
	}

	prog.observe(poller.State{Phase: poller.PhaseLoading})
	prog.observe(poller.State{Phase: poller.PhaseReady, Detail: detail(scan.StatusPending)})
	prog.observe(poller.State{Phase: poller.PhaseReady, Detail: detail(scan.StatusRunning)})
	prog.observe(poller.State{Phase: poller.PhaseReady, Detail: detail(scan.StatusRunning)})
	prog.observe(poller.State{Phase: poller.PhaseReady, Detail: detail(scan.StatusRunning), Failures: 1, Err: errors.New("timeout")})
	prog.observe(poller.State{Phase: poller.PhaseReady, Detail: detail(scan.StatusCompleted), Terminal: true})

	assert.Equal(t,
		"status: pending\nstatus: running\nrefresh failed (1): timeout\nstatus: completed\n",
		buf.String(),
	)
}
