package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"github.com/vigo/scanwatch/internal/scan"
	"github.com/vigo/scanwatch/internal/terminal"
	"github.com/vigo/scanwatch/internal/view"
)

const watchHelp = `commands:
  open <n|id>        show scan by list position or id
  back               return to the list
  new <url> [type]   create a scan (type quick or full, default full)
  refresh            refresh the list now
  retry              retry loading the shown scan
  report             save the shown scan's report
  help               show this help
  quit               exit`

// screen redraws only when the rendered output changes.
type screen struct {
	w    io.Writer
	last []byte
	mu   sync.Mutex
}

func (s *screen) draw(snap view.Snapshot, force bool) {
	var buf bytes.Buffer
	terminal.Render(&buf, snap)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !force && bytes.Equal(buf.Bytes(), s.last) {
		return
	}
	s.last = buf.Bytes()

	fmt.Fprintln(s.w, strings.Repeat("-", 60))
	_, _ = s.w.Write(s.last)
	fmt.Fprint(s.w, "> ")
}

// parseLine splits an input line into a command and its arguments.
func parseLine(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

// resolveScan finds a scan by 1-based list position or by id.
func resolveScan(scans []scan.Scan, arg string) (scan.Scan, bool) {
	for _, s := range scans {
		if string(s.ID) == arg {
			return s, true
		}
	}

	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(scans) {
		return scans[n-1], true
	}

	return scan.Scan{}, false
}

func commandWatch() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "interactive list and detail view with live updates",
		Action: withEnv(func(ctx context.Context, _ *cli.Context, e *env) error {
			scr := &screen{w: os.Stdout}

			ctrl := e.controller(view.WithOnChange(func(s view.Snapshot) {
				scr.draw(s, false)
			}))
			defer ctrl.Close()

			ctrl.Start(ctx)

			lines := make(chan string)
			go func() {
				defer close(lines)
				sc := bufio.NewScanner(os.Stdin)
				for sc.Scan() {
					lines <- sc.Text()
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if quit := runWatchCommand(ctx, e, ctrl, line); quit {
						return nil
					}
					scr.draw(ctrl.Snapshot(), true)
				}
			}
		}),
	}
}

func runWatchCommand(ctx context.Context, e *env, ctrl *view.Controller, line string) bool {
	cmd, args := parseLine(line)
	warn := color.New(color.FgYellow)

	switch cmd {
	case "":
	case "quit", "exit", "q":
		return true
	case "help", "?":
		fmt.Fprintln(os.Stdout, watchHelp)
	case "open":
		if len(args) != 1 {
			warn.Println("usage: open <n|id>")
			return false
		}
		s, ok := resolveScan(ctrl.Snapshot().Scans, args[0])
		if !ok {
			warn.Printf("no scan %q in the list\n", args[0])
			return false
		}
		if err := ctrl.SelectScan(s); err != nil {
			warn.Println(err)
		}
	case "back", "list", "ls":
		if err := ctrl.Back(); err != nil {
			warn.Println(err)
		}
	case "new":
		if len(args) == 0 {
			warn.Println("usage: new <url> [quick|full]")
			return false
		}
		typ := ""
		if len(args) > 1 {
			typ = args[1]
		}
		_, _ = ctrl.Submit(ctx, args[0], typ)
	case "refresh":
		if err := ctrl.Refresh(ctx); err != nil {
			e.logger.Debug("manual refresh", "err", err)
		}
	case "retry":
		if err := ctrl.RetryDetail(); err != nil {
			warn.Println(err)
		}
	case "report":
		reportURL, err := ctrl.ReportURL()
		if err != nil {
			warn.Println(err)
			return false
		}
		snap := ctrl.Snapshot()
		if err = saveReport(ctx, e, snap.ScanID, reportURL, ""); err != nil {
			warn.Println(err)
			fmt.Fprintf(os.Stdout, "report: %s\n", reportURL)
		}
	default:
		warn.Printf("unknown command %q, type help\n", cmd)
	}

	return false
}
