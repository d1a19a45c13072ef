package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/sightings/internal/metrics"
	"github.com/sells-group/sightings/internal/model"
	"github.com/sells-group/sightings/pkg/ais"
)

// --- Report number authority ---

type mockNumbers struct {
	mock.Mock
}

func (m *mockNumbers) ReportNumber(ctx context.Context, lat, lon float64) (string, error) {
	args := m.Called(ctx, lat, lon)
	return args.String(0), args.Error(1)
}

// --- Weather ---

type mockWeather struct {
	mock.Mock
}

func (m *mockWeather) Visibility(ctx context.Context, lat, lon float64) (int, error) {
	args := m.Called(ctx, lat, lon)
	return args.Int(0), args.Error(1)
}

// --- Vessels ---

type mockVessels struct {
	mock.Mock
}

func (m *mockVessels) Nearby(ctx context.Context, q ais.Query) ([]model.Vessel, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Vessel), args.Error(1)
}

// --- Trust store ---

type mockTrust struct {
	mock.Mock
}

func (m *mockTrust) TrustScore(ctx context.Context, accountID string) (float64, bool, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(float64), args.Bool(1), args.Error(2)
}

func (m *mockTrust) RecordRequestMetadata(ctx context.Context, key, accountID string, meta model.RequestMetadata) error {
	args := m.Called(ctx, key, accountID, meta)
	return args.Error(0)
}

// --- Narrative ---

type mockNarrative struct {
	mock.Mock
}

func (m *mockNarrative) Generate(ctx context.Context, report *model.EnrichedReport) (string, error) {
	args := m.Called(ctx, report)
	return args.String(0), args.Error(1)
}

// --- Publisher ---

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, report *model.EnrichedReport) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

type fixture struct {
	numbers   *mockNumbers
	weather   *mockWeather
	vessels   *mockVessels
	trust     *mockTrust
	narrative *mockNarrative
	publisher *mockPublisher
	sink      *metrics.Sink
	acts      *Activities
}

func newFixture() *fixture {
	f := &fixture{
		numbers:   &mockNumbers{},
		weather:   &mockWeather{},
		vessels:   &mockVessels{},
		trust:     &mockTrust{},
		narrative: &mockNarrative{},
		publisher: &mockPublisher{},
		sink:      metrics.NewSink(),
	}
	f.acts = &Activities{
		Numbers:   f.numbers,
		Weather:   f.weather,
		Vessels:   f.vessels,
		Trust:     f.trust,
		Narrative: f.narrative,
		Sink:      f.sink,
		Publisher: f.publisher,
		Metrics:   metrics.NewPipelineMetrics(),
		Settings:  DefaultSettings(),
	}
	return f
}

func testReport() model.RawReport {
	return model.RawReport{
		SourceAccountID: "acct-1",
		Timestamp:       "2024-01-01T00:00:00Z",
		Latitude:        1.0,
		Longitude:       2.0,
		PictureURL:      "http://x/y.jpg",
	}
}

func strPtr(s string) *string     { return &s }
func intPtr(i int) *int           { return &i }
func floatPtr(f float64) *float64 { return &f }
