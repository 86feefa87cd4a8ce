package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/input"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockDispatcher implements input.TileDispatcher for testing.
type mockDispatcher struct {
	envelopes []domain.Envelope
	released  []domain.MapInstanceID
	result    any
	err       error
}

func (m *mockDispatcher) Dispatch(_ context.Context, env domain.Envelope) (any, error) {
	m.envelopes = append(m.envelopes, env)
	return m.result, m.err
}

func (m *mockDispatcher) Release(_ context.Context, mapID domain.MapInstanceID) error {
	m.released = append(m.released, mapID)
	return m.err
}

// mockMessages implements input.MessageReader for testing.
type mockMessages struct {
	pending map[domain.MapInstanceID][]domain.OutboundMessage
}

func (m *mockMessages) Drain(_ context.Context, mapID domain.MapInstanceID) []domain.OutboundMessage {
	msgs := m.pending[mapID]
	delete(m.pending, mapID)
	if msgs == nil {
		return []domain.OutboundMessage{}
	}
	return msgs
}

// mockOpener implements input.DatabaseOpener for testing.
type mockOpener struct {
	tileset *domain.Tileset
	err     error
}

func (m *mockOpener) Open(_ context.Context, location string) (*domain.Tileset, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.tileset, nil
}

// mockTrimmer implements input.CacheTrimmer for testing.
type mockTrimmer struct {
	report input.TrimReport
	err    error
}

func (m *mockTrimmer) TriggerTrim(_ context.Context) (input.TrimReport, error) {
	return m.report, m.err
}

// mockHealthService implements input.HealthChecker for testing.
type mockHealthService struct {
	healthy bool
	ready   bool
}

func (m *mockHealthService) IsHealthy(_ context.Context) bool { return m.healthy }

func (m *mockHealthService) IsReady(_ context.Context) bool { return m.ready }

func (m *mockHealthService) GetHealthDetails(_ context.Context) input.HealthDetails {
	return input.HealthDetails{
		Healthy:      m.healthy,
		Ready:        m.ready,
		MapInstances: 2,
		Databases:    1,
		Components:   map[string]string{"storage": "ok"},
	}
}

func decodeBody(t interface{ Fatalf(string, ...any) }, body io.Reader) map[string]any {
	var out map[string]any
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}
