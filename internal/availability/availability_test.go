package availability_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vigo/scanwatch/internal/apiclient"
	"github.com/vigo/scanwatch/internal/availability"
	"github.com/vigo/scanwatch/internal/scan"
)

var errRefused = &apiclient.TransportError{Method: "GET", URL: "http://localhost:8000/api/scans", Err: errors.New("connection refused")}

type recorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *recorder) listen(available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, available)
}

func (r *recorder) all() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.events...)
}

func fail(context.Context) error    { return errRefused }
func succeed(context.Context) error { return nil }

func TestMonitor_StartsAvailable(t *testing.T) {
	m := availability.New()

	assert.True(t, m.Available())
	assert.NoError(t, m.Require())
}

func TestMonitor_OneNotificationPerOutage(t *testing.T) {
	var logs bytes.Buffer
	m := availability.New(availability.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	rec := &recorder{}
	m.OnChange(rec.listen)

	for range 5 {
		err := m.Guard(context.Background(), fail)
		assert.ErrorIs(t, err, errRefused)
	}

	assert.False(t, m.Available())
	assert.Equal(t, []bool{false}, rec.all())
	assert.Equal(t, 1, strings.Count(logs.String(), "backend unavailable"))

	require.NoError(t, m.Guard(context.Background(), succeed))
	require.NoError(t, m.Guard(context.Background(), succeed))

	assert.True(t, m.Available())
	assert.Equal(t, []bool{false, true}, rec.all())

	_ = m.Guard(context.Background(), fail)
	assert.Equal(t, []bool{false, true, false}, rec.all())
	assert.Equal(t, 2, strings.Count(logs.String(), "backend unavailable"))
}

func TestMonitor_Observe(t *testing.T) {
	tests := []struct {
		name      string
		start     error
		err       error
		want      availability.Edge
		available bool
	}{
		{"success keeps available", nil, nil, availability.EdgeNone, true},
		{"transport failure loses", nil, errRefused, availability.EdgeLost, false},
		{"api error proves reachable", errRefused, &apiclient.APIError{StatusCode: 400}, availability.EdgeRestored, true},
		{"cancellation is ignored", errRefused, context.Canceled, availability.EdgeNone, false},
		{"repeated failure is not an edge", errRefused, errRefused, availability.EdgeNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := availability.New()
			m.Observe(tt.start)

			assert.Equal(t, tt.want, m.Observe(tt.err))
			assert.Equal(t, tt.available, m.Available())
		})
	}
}

func TestMonitor_RequireWhenUnavailable(t *testing.T) {
	m := availability.New()
	m.Observe(errRefused)

	assert.ErrorIs(t, m.Require(), availability.ErrUnavailable)
}

type stubAPI struct {
	err     error
	creates int
	lists   int
}

func (s *stubAPI) ListScans(context.Context) ([]scan.Scan, error) {
	s.lists++
	if s.err != nil {
		return nil, s.err
	}
	return []scan.Scan{{ID: "1"}}, nil
}

func (s *stubAPI) CreateScan(_ context.Context, target string, typ scan.Type) (*scan.Scan, error) {
	s.creates++
	if s.err != nil {
		return nil, s.err
	}
	return &scan.Scan{ID: "2", TargetURL: target, Type: typ, Status: scan.StatusPending}, nil
}

func (s *stubAPI) GetScanDetail(_ context.Context, id scan.ID) (*scan.Detail, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &scan.Detail{Scan: scan.Scan{ID: id}}, nil
}

func (s *stubAPI) ReportURL(id scan.ID) string { return "http://api/" + id.String() }

func TestClient_CreateFastFailsWhileUnavailable(t *testing.T) {
	api := &stubAPI{err: errRefused}
	c := availability.Wrap(api, availability.New())

	_, err := c.ListScans(context.Background())
	require.Error(t, err)
	assert.False(t, c.Monitor().Available())

	_, err = c.CreateScan(context.Background(), "https://example.com", scan.TypeFull)

	assert.ErrorIs(t, err, availability.ErrUnavailable)
	assert.Equal(t, 0, api.creates)
}

func TestClient_RecoversOnSuccessfulCall(t *testing.T) {
	api := &stubAPI{err: errRefused}
	c := availability.Wrap(api, availability.New())

	_, _ = c.GetScanDetail(context.Background(), "1")
	require.False(t, c.Monitor().Available())

	api.err = nil
	scans, err := c.ListScans(context.Background())

	require.NoError(t, err)
	assert.Len(t, scans, 1)
	assert.True(t, c.Monitor().Available())

	created, err := c.CreateScan(context.Background(), "https://example.com", scan.TypeQuick)
	require.NoError(t, err)
	assert.Equal(t, scan.TypeQuick, created.Type)
	assert.Equal(t, "http://api/2", c.ReportURL(created.ID))
}

func TestMonitor_ConcurrentEdgesArriveInOrder(t *testing.T) {
	for range 200 {
		m := availability.New()
		rec := &recorder{}
		m.OnChange(rec.listen)

		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if i%2 == 0 {
					m.Observe(errRefused)
					return
				}
				m.Observe(nil)
			}()
		}
		wg.Wait()

		events := rec.all()
		want := false
		for _, got := range events {
			require.Equal(t, want, got, "edges out of order: %v", events)
			want = !want
		}
		if len(events) > 0 {
			assert.Equal(t, m.Available(), events[len(events)-1])
		} else {
			assert.True(t, m.Available())
		}
	}
}
