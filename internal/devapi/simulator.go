package devapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vigo/scanwatch/internal/db"
	"github.com/vigo/scanwatch/internal/scan"
)

// DefaultStep is the pause between two simulated lifecycle steps.
const DefaultStep = 2 * time.Second

// quick scans only check headers, full scans add the other findings.
var (
	headerFindings = []scan.Vulnerability{
		{
			Title:          "Missing Strict-Transport-Security header",
			Description:    "The HSTS header is missing.",
			Severity:       scan.SeverityMedium,
			CVSSScore:      5.0,
			Type:           "headers",
			Recommendation: "Send Strict-Transport-Security: max-age=31536000; includeSubDomains.",
			Evidence:       json.RawMessage(`{"header":"Strict-Transport-Security","present":false}`),
		},
		{
			Title:          "Missing X-Content-Type-Options header",
			Description:    "The X-Content-Type-Options header is missing or misconfigured.",
			Severity:       scan.SeverityLow,
			CVSSScore:      3.0,
			Type:           "headers",
			Recommendation: "Send X-Content-Type-Options: nosniff.",
		},
	}
	fullFindings = []scan.Vulnerability{
		{
			Title:          "Reflected cross-site scripting",
			Description:    "A query parameter is reflected without encoding.",
			Severity:       scan.SeverityHigh,
			CVSSScore:      7.5,
			Type:           "xss",
			Recommendation: "Encode untrusted output and set a Content-Security-Policy.",
			Evidence:       json.RawMessage(`{"parameter":"q","payload":"<script>alert(1)</script>"}`),
		},
		{
			Title:          "Server version disclosure",
			Description:    "The Server header reveals the software version.",
			Severity:       scan.SeverityInfo,
			CVSSScore:      0.0,
			Type:           "version",
			Recommendation: "Hide version details from response headers.",
		},
	}
)

// Findings returns the canned findings for a scan type.
func Findings(t scan.Type) []scan.Vulnerability {
	out := append([]scan.Vulnerability(nil), headerFindings...)
	if t == scan.TypeFull {
		out = append(out, fullFindings...)
	}

	return out
}

// Simulator walks created scans through pending -> running -> completed.
type Simulator struct {
	ctx    context.Context
	cancel context.CancelFunc
	store  db.Manager
	logger *slog.Logger
	wg     sync.WaitGroup
	step   time.Duration
}

// SimulatorOption represents option function type.
type SimulatorOption func(*Simulator)

// WithStep sets the delay between lifecycle steps.
func WithStep(d time.Duration) SimulatorOption {
	return func(s *Simulator) {
		if d > 0 {
			s.step = d
		}
	}
}

// WithSimulatorLogger sets logger.
func WithSimulatorLogger(l *slog.Logger) SimulatorOption {
	return func(s *Simulator) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSimulator instantiates a simulator.
func NewSimulator(store db.Manager, options ...SimulatorOption) *Simulator {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Simulator{
		ctx:    ctx,
		cancel: cancel,
		store:  store,
		step:   DefaultStep,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(s)
	}

	return s
}

// Run starts the lifecycle of sc in the background.
func (s *Simulator) Run(sc scan.Scan) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		if err := s.run(sc); err != nil {
			if errors.Is(err, context.Canceled) {
				s.logger.Info("simulation interrupted", "scan_id", sc.ID)
			} else {
				s.logger.Error("simulated scan failed", "scan_id", sc.ID, "err", err)
			}
			if errr := s.store.UpdateStatus(context.Background(), sc.ID, scan.StatusFailed); errr != nil {
				s.logger.Error("mark failed", "scan_id", sc.ID, "err", errr)
			}
		}
	}()
}

func (s *Simulator) run(sc scan.Scan) error {
	if !s.wait() {
		return s.ctx.Err()
	}
	if err := s.store.UpdateStatus(s.ctx, sc.ID, scan.StatusRunning); err != nil {
		return err
	}

	for _, finding := range Findings(sc.Type) {
		if !s.wait() {
			return s.ctx.Err()
		}
		if _, err := s.store.AddVulnerability(s.ctx, sc.ID, finding); err != nil {
			return err
		}
	}

	if !s.wait() {
		return s.ctx.Err()
	}
	if err := s.store.UpdateStatus(s.ctx, sc.ID, scan.StatusCompleted); err != nil {
		return err
	}

	s.logger.Info("simulated scan completed", "scan_id", sc.ID)

	return nil
}

func (s *Simulator) wait() bool {
	t := time.NewTimer(s.step)
	defer t.Stop()

	select {
	case <-s.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Close stops every running simulation and waits for them.
func (s *Simulator) Close() {
	s.cancel()
	s.wg.Wait()
}
