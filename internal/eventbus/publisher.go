/*
Package eventbus publishes scanwatch events to NATS.
*/
package eventbus

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vigo/scanwatch/internal/scan"
)

// subjects.
const (
	SubjectAvailability = "scanwatch.availability"
	SubjectScanFinished = "scanwatch.scan.finished"
)

// AvailabilityEvent is published on every availability edge.
type AvailabilityEvent struct {
	At        time.Time `json:"at"`
	Available bool      `json:"available"`
}

// ScanFinishedEvent is published once a followed scan reaches a terminal
// status.
type ScanFinishedEvent struct {
	Counts    scan.Counts `json:"counts"`
	At        time.Time   `json:"at"`
	ID        scan.ID     `json:"id"`
	TargetURL string      `json:"target_url"`
	Status    scan.Status `json:"status"`
}

// Publisher is a thin NATS publisher. A nil *Publisher is valid and drops
// everything, so callers need no feature checks.
type Publisher struct {
	conn   *nats.Conn
	Logger *slog.Logger
}

// NewPublisher connects to natsURL, retrying in the background if the
// server is not up yet.
func NewPublisher(natsURL string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	conn, err := nats.Connect(natsURL,
		nats.Name("scanwatch"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", natsURL, err)
	}

	logger.Info("connected to nats", "url", natsURL)

	return &Publisher{conn: conn, Logger: logger}, nil
}

// AvailabilityPayload encodes an availability event.
func AvailabilityPayload(available bool, at time.Time) ([]byte, error) {
	return json.Marshal(AvailabilityEvent{Available: available, At: at.UTC()})
}

// ScanFinishedPayload encodes a scan finished event.
func ScanFinishedPayload(d scan.Detail, at time.Time) ([]byte, error) {
	return json.Marshal(ScanFinishedEvent{
		ID:        d.ID,
		TargetURL: d.TargetURL,
		Status:    d.Status,
		Counts:    d.SeverityCounts(),
		At:        at.UTC(),
	})
}

// PublishAvailability publishes an availability edge.
func (p *Publisher) PublishAvailability(available bool) error {
	if p == nil {
		return nil
	}

	data, err := AvailabilityPayload(available, time.Now())
	if err != nil {
		return err
	}

	return p.publish(SubjectAvailability, data)
}

// PublishScanFinished publishes a terminal scan.
func (p *Publisher) PublishScanFinished(d scan.Detail) error {
	if p == nil {
		return nil
	}

	data, err := ScanFinishedPayload(d, time.Now())
	if err != nil {
		return err
	}

	return p.publish(SubjectScanFinished, data)
}

// AvailabilityListener adapts PublishAvailability to a monitor listener.
func (p *Publisher) AvailabilityListener() func(bool) {
	return func(available bool) {
		if err := p.PublishAvailability(available); err != nil && p != nil {
			p.Logger.Error("publish availability", "err", err)
		}
	}
}

// FinishedListener adapts PublishScanFinished to a view finished hook.
func (p *Publisher) FinishedListener() func(scan.Detail) {
	return func(d scan.Detail) {
		if err := p.PublishScanFinished(d); err != nil && p != nil {
			p.Logger.Error("publish scan finished", "err", err, "id", d.ID)
		}
	}
}

func (p *Publisher) publish(subject string, data []byte) error {
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.Logger.Debug("published", "subject", subject, "bytes", len(data))

	return nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}

	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
	p.Logger.Info("disconnected from nats")
}

// IsConnected reports the connection state.
func (p *Publisher) IsConnected() bool {
	return p != nil && p.conn != nil && p.conn.IsConnected()
}
