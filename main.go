/*
Package main implements the scanwatch command-line client.
*/
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"github.com/vigo/scanwatch/internal/apiclient"
	"github.com/vigo/scanwatch/internal/availability"
	"github.com/vigo/scanwatch/internal/config"
	"github.com/vigo/scanwatch/internal/eventbus"
	"github.com/vigo/scanwatch/internal/httpclient"
	"github.com/vigo/scanwatch/internal/tlog"
	"github.com/vigo/scanwatch/internal/version"
	"github.com/vigo/scanwatch/internal/view"
)

const (
	defaultLogLevel   = "warn"
	defaultLogNoColor = false
)

// env carries what every command needs.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	monitor *availability.Monitor
	api     *availability.Client
	bus     *eventbus.Publisher
}

func (e *env) close() {
	e.bus.Close()
}

// controller builds a view controller wired to the event bus.
func (e *env) controller(options ...view.Option) *view.Controller {
	opts := []view.Option{
		view.WithLogger(e.logger),
		view.WithListInterval(e.cfg.ListInterval),
		view.WithPollInterval(e.cfg.PollInterval),
		view.WithMaxPollFailures(e.cfg.MaxPollFailures),
	}
	if e.bus != nil {
		opts = append(opts, view.WithOnFinished(e.bus.FinishedListener()))
	}

	return view.New(e.api, append(opts, options...)...)
}

func newEnv(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	if u := c.String("api-url"); u != "" {
		cfg.APIURL = u
		if err = cfg.Validate(); err != nil {
			return nil, err
		}
	}

	level := c.String("loglevel")
	if !c.IsSet("loglevel") && cfg.LogLevel != "" {
		level = cfg.LogLevel
	}
	logger := tlog.New(level, !c.Bool("lognocolor"))

	hc, err := httpclient.New(httpclient.WithTimeout(cfg.RequestTimeout))
	if err != nil {
		return nil, fmt.Errorf("http client: %w", err)
	}

	client, err := apiclient.New(cfg.APIURL,
		apiclient.WithDoer(hc),
		apiclient.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	monitor := availability.New(
		availability.WithLogger(logger),
		availability.WithTarget(cfg.APIURL),
	)

	e := &env{
		cfg:     cfg,
		logger:  logger,
		monitor: monitor,
		api:     availability.Wrap(client, monitor),
	}

	if cfg.NatsURL != "" {
		bus, errr := eventbus.NewPublisher(cfg.NatsURL, logger)
		if errr != nil {
			logger.Warn("event bus disabled", "err", errr)
		} else {
			e.bus = bus
			monitor.OnChange(bus.AvailabilityListener())
		}
	}

	return e, nil
}

// withEnv adapts a command body that needs an env and a signal-aware
// context.
func withEnv(fn func(ctx context.Context, c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := newEnv(c)
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		defer e.close()

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		return fn(ctx, c, e)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "scanwatch",
		Usage:   "follow vulnerability scans on a scan api",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "load configuration from yaml `FILE`",
				EnvVars: []string{"SCANWATCH_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "api-url",
				Usage: "scan api base `URL`, overrides config",
			},
			&cli.StringFlag{
				Name:  "loglevel",
				Value: defaultLogLevel,
				Usage: "log level (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  "lognocolor",
				Value: defaultLogNoColor,
				Usage: "disable log colors",
			},
		},
		Commands: []*cli.Command{
			commandWatch(),
			commandList(),
			commandSubmit(),
			commandShow(),
			commandReport(),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
