package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"github.com/vigo/scanwatch/internal/apiclient"
	"github.com/vigo/scanwatch/internal/poller"
	"github.com/vigo/scanwatch/internal/report"
	"github.com/vigo/scanwatch/internal/scan"
	"github.com/vigo/scanwatch/internal/terminal"
	"github.com/vigo/scanwatch/internal/view"
)

const unavailableHint = "cannot reach the scan api at %s, make sure it is running"

// failure turns a client error into a cli exit error with a readable
// message.
func failure(e *env, err error) error {
	if apiclient.IsTransport(err) {
		return cli.Exit(fmt.Sprintf(unavailableHint, e.cfg.APIURL), 1)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return cli.Exit(err.Error(), 1)
}

func commandList() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "print all scans, newest first",
		Action: withEnv(func(ctx context.Context, _ *cli.Context, e *env) error {
			scans, err := e.api.ListScans(ctx)
			if err != nil {
				return failure(e, err)
			}

			terminal.RenderList(os.Stdout, scans)

			return nil
		}),
	}
}

func commandShow() *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "print one scan with its findings",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "scan `ID`", Required: true},
		},
		Action: withEnv(func(ctx context.Context, c *cli.Context, e *env) error {
			d, err := e.api.GetScanDetail(ctx, scan.ID(c.String("id")))
			if err != nil {
				return failure(e, err)
			}

			terminal.RenderDetail(os.Stdout, *d)
			if !d.Status.IsTerminal() {
				color.New(color.Faint).Fprintln(os.Stdout, "\nscan still in progress, use submit or watch to follow it")
			}

			return nil
		}),
	}
}

func commandSubmit() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "create a scan and follow it until it finishes",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "target `URL`", Required: true},
			&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Value: string(scan.DefaultType), Usage: "scan type (quick, full)"},
			&cli.BoolFlag{Name: "no-follow", Usage: "return right after the scan is created"},
		},
		Action: withEnv(func(ctx context.Context, c *cli.Context, e *env) error {
			if c.Bool("no-follow") {
				created, err := createOnly(ctx, e, c.String("url"), c.String("type"))
				if err != nil {
					return err
				}
				color.Green("scan %s created (%s)", created.ID, created.Status)
				return nil
			}

			return follow(ctx, e, c.String("url"), c.String("type"))
		}),
	}
}

func createOnly(ctx context.Context, e *env, targetURL, scanType string) (*scan.Scan, error) {
	target, err := scan.ValidateTarget(targetURL)
	if err != nil {
		return nil, cli.Exit(view.FormMessage(err), 2)
	}

	typ, err := scan.ParseType(scanType)
	if err != nil {
		return nil, cli.Exit(view.FormMessage(err), 2)
	}

	created, err := e.api.CreateScan(ctx, target, typ)
	if err != nil {
		return nil, cli.Exit(view.FormMessage(err), 1)
	}

	return created, nil
}

// follow submits through the view controller and blocks until the scan's
// poller stops or ctx is canceled.
func follow(ctx context.Context, e *env, targetURL, scanType string) error {
	done := make(chan poller.State, 1)
	prog := &progress{w: os.Stdout}

	ctrl := e.controller(view.WithOnChange(func(s view.Snapshot) {
		if s.Kind != view.KindDetail || s.Detail == nil {
			return
		}

		st := *s.Detail
		prog.observe(st)

		if st.Terminal || st.Phase == poller.PhaseError {
			select {
			case done <- st:
			default:
			}
		}
	}))
	defer ctrl.Close()

	ctrl.Start(ctx)

	created, err := ctrl.Submit(ctx, targetURL, scanType)
	if err != nil {
		return cli.Exit(view.FormMessage(err), 1)
	}
	color.Cyan("scan %s created, following...", created.ID)

	select {
	case <-ctx.Done():
		color.Yellow("stopped following scan %s", created.ID)
		return nil
	case st := <-done:
		if st.Phase == poller.PhaseError {
			return failure(e, st.Err)
		}
		fmt.Fprintln(os.Stdout)
		terminal.RenderDetail(os.Stdout, *st.Detail)
		fmt.Fprintf(os.Stdout, "\nreport: %s\n", e.api.ReportURL(created.ID))
	}

	return nil
}

// progress prints a line for every status or phase change of a followed
// scan, and for every failed refresh.
type progress struct {
	w      io.Writer
	phase  poller.Phase
	status scan.Status
}

func (p *progress) observe(st poller.State) {
	var status scan.Status
	if st.Detail != nil {
		status = st.Detail.Status
	}

	changed := st.Phase != p.phase || status != p.status
	p.phase, p.status = st.Phase, status

	switch {
	case st.Err != nil && st.Phase != poller.PhaseError:
		color.New(color.FgYellow).Fprintf(p.w, "refresh failed (%d): %v\n", st.Failures, st.Err)
	case changed && st.Detail != nil:
		terminal.StatusColor(status).Fprintf(p.w, "status: %s\n", status)
	}
}

func commandReport() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "render a scan report in headless chrome and save it",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "scan `ID`", Required: true},
			&cli.StringFlag{Name: "dir", Usage: "output `DIR`, overrides config"},
			&cli.BoolFlag{Name: "url-only", Usage: "print the report url without rendering"},
		},
		Action: withEnv(func(ctx context.Context, c *cli.Context, e *env) error {
			id := scan.ID(c.String("id"))
			reportURL := e.api.ReportURL(id)

			if c.Bool("url-only") {
				fmt.Fprintln(os.Stdout, reportURL)
				return nil
			}

			return saveReport(ctx, e, id, reportURL, c.String("dir"))
		}),
	}
}

func saveReport(ctx context.Context, e *env, id scan.ID, reportURL, dir string) error {
	if dir == "" {
		dir = e.cfg.ReportDir
	}

	r := report.New(
		report.WithLogger(e.logger),
		report.WithDir(dir),
	)

	path, err := r.Save(ctx, id, reportURL)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	color.Green("report saved to %s", path)

	return nil
}
