/*
Package main runs the development scan api.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/vigo/scanwatch/internal/db"
	"github.com/vigo/scanwatch/internal/db/postgresql"
	"github.com/vigo/scanwatch/internal/db/sqlite"
	"github.com/vigo/scanwatch/internal/devapi"
	"github.com/vigo/scanwatch/internal/tlog"
	"github.com/vigo/scanwatch/internal/version"
)

const (
	defaultAddr       = ":8000"
	defaultLogLevel   = "info"
	defaultLogNoColor = false
	shutdownTimeout   = 5 * time.Second
)

var errUnknownDriver = errors.New("unknown db driver")

func openStore(c *cli.Context) (db.Manager, error) {
	var (
		store db.Manager
		err   error
	)

	switch c.String("db") {
	case "sqlite":
		store, err = sqlite.New(sqlite.WithTargetSqliteFilename(c.String("sqlite-file")))
	case "postgres":
		var opts []postgresql.Option
		if dsn := c.String("dsn"); dsn != "" {
			opts = append(opts, postgresql.WithDSN(dsn))
		}
		store, err = postgresql.New(opts...)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownDriver, c.String("db"))
	}
	if err != nil {
		return nil, err
	}

	if err = store.InitDB(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init db: %w", err)
	}

	return store, nil
}

func run(c *cli.Context) error {
	logger := tlog.New(c.String("loglevel"), !c.Bool("lognocolor"))

	store, err := openStore(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer func() {
		_ = store.Close()
	}()

	options := []devapi.Option{
		devapi.WithLogger(logger),
		devapi.WithCORS(c.Bool("cors")),
	}

	if c.Bool("simulate") {
		sim := devapi.NewSimulator(store,
			devapi.WithStep(c.Duration("step")),
			devapi.WithSimulatorLogger(logger),
		)
		defer sim.Close()

		options = append(options, devapi.WithSimulator(sim))
	}

	srv := &http.Server{
		Addr:              c.String("addr"),
		Handler:           devapi.New(store, options...).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dev api listening", "addr", srv.Addr, "db", c.String("db"), "simulate", c.Bool("simulate"))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err = <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return cli.Exit(err.Error(), 1)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func main() {
	app := &cli.App{
		Name:    "scanwatch-devapi",
		Usage:   "development scan api backed by sqlite or postgres",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: defaultAddr, Usage: "listen `ADDR`"},
			&cli.StringFlag{Name: "db", Value: "sqlite", Usage: "storage driver (sqlite, postgres)"},
			&cli.StringFlag{Name: "sqlite-file", Value: "scanwatch-dev.sqlite3", Usage: "sqlite `FILE`"},
			&cli.StringFlag{Name: "dsn", Usage: "postgres `DSN`, defaults to DATABASE_URL", EnvVars: []string{"DATABASE_URL"}},
			&cli.BoolFlag{Name: "simulate", Value: true, Usage: "walk new scans through their lifecycle"},
			&cli.DurationFlag{Name: "step", Value: devapi.DefaultStep, Usage: "delay between simulated status changes"},
			&cli.BoolFlag{Name: "cors", Usage: "allow requests from any origin"},
			&cli.StringFlag{Name: "loglevel", Value: defaultLogLevel, Usage: "log level"},
			&cli.BoolFlag{Name: "lognocolor", Value: defaultLogNoColor, Usage: "disable log colors"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
