package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/benmeehan/crowdsense/internal/aggregator"
	"github.com/benmeehan/crowdsense/internal/anon"
	"github.com/benmeehan/crowdsense/internal/catalog"
	"github.com/benmeehan/crowdsense/internal/geo"
	"github.com/benmeehan/crowdsense/internal/geofence"
	"github.com/benmeehan/crowdsense/internal/metrics"
	"github.com/benmeehan/crowdsense/internal/models"
	"github.com/benmeehan/crowdsense/internal/pipeline"
	"github.com/benmeehan/crowdsense/internal/ratelimit"
	"github.com/benmeehan/crowdsense/tests/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	t0     = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	campus = geo.Coordinate{Latitude: 12.9716, Longitude: 77.5946}
)

type fixture struct {
	pipeline   *pipeline.Pipeline
	aggregator *aggregator.Aggregator
	store      *catalog.Store
	notifier   *mocks.MockNotifier
	clock      *time.Time
}

func newFixture(t *testing.T, cfg pipeline.Config) *fixture {
	t.Helper()

	agg, err := aggregator.NewAggregator(aggregator.Config{})
	require.NoError(t, err)
	agg.Expire(t0)
	anonymizer, err := anon.NewAnonymizerWithKey([]byte("test-key"))
	require.NoError(t, err)

	store := catalog.NewStore()
	_, err = store.Apply(catalog.Document{
		Version: "1.0.0",
		Bounds:  &geo.Bounds{North: 13.0, South: 12.9, East: 77.7, West: 77.5},
		Zones: []geofence.Zone{{
			ID:           "server-room",
			Name:         "Server room",
			Kind:         geofence.KindCircle,
			Center:       campus,
			RadiusMeters: 100,
			Severity:     geofence.SeverityHigh,
			Description:  "Authorised staff only",
		}, {
			ID:           "off-campus-depot",
			Name:         "Depot",
			Kind:         geofence.KindCircle,
			Center:       geo.Coordinate{Latitude: 14, Longitude: 77.6},
			RadiusMeters: 200,
			Severity:     geofence.SeverityMedium,
		}},
	}, "test", t0)
	require.NoError(t, err)

	notifier := new(mocks.MockNotifier)
	clock := t0
	p := pipeline.NewPipeline(cfg, ratelimit.NewLimiter(ratelimit.Config{}), agg, store, anonymizer, notifier, zerolog.Nop()).
		WithClock(func() time.Time { return clock })

	return &fixture{pipeline: p, aggregator: agg, store: store, notifier: notifier, clock: &clock}
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

// away returns a coordinate inside the campus bounds but outside every zone.
func away() geo.Coordinate {
	return geo.OffsetNorth(campus, 1000)
}

func TestProcess_InvalidCoordinate(t *testing.T) {
	f := newFixture(t, pipeline.Config{})

	out, err := f.pipeline.Process(context.Background(), models.Ping{
		DeviceToken: "device-a",
		Coordinate:  geo.Coordinate{Latitude: 95, Longitude: 0},
	})
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)
	assert.Equal(t, pipeline.StateDropped, out.State)
	assert.False(t, out.Accepted())

	for _, s := range f.aggregator.Stats() {
		assert.Equal(t, 0, s.LiveCells)
	}
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestProcess_MissingDeviceToken(t *testing.T) {
	f := newFixture(t, pipeline.Config{})

	_, err := f.pipeline.Process(context.Background(), models.Ping{DeviceToken: "  ", Coordinate: away()})
	assert.ErrorIs(t, err, pipeline.ErrMissingDeviceToken)
}

func TestProcess_OversizedToken(t *testing.T) {
	f := newFixture(t, pipeline.Config{})

	_, err := f.pipeline.Process(context.Background(), models.Ping{DeviceToken: strings.Repeat("x", 300), Coordinate: away()})
	assert.ErrorIs(t, err, pipeline.ErrInvalidPing)
}

func TestProcess_CleanPingIsAggregated(t *testing.T) {
	f := newFixture(t, pipeline.Config{})

	out, err := f.pipeline.Process(context.Background(), models.Ping{DeviceToken: "device-a", Coordinate: away(), Timestamp: t0})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateClean, out.State)
	assert.True(t, out.Accepted())
	assert.True(t, out.Aggregated)
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestProcess_RateLimit(t *testing.T) {
	f := newFixture(t, pipeline.Config{})
	limited := metrics.PingsDroppedTotal.WithLabelValues(metrics.ReasonRateLimited)
	before := testutil.ToFloat64(limited)

	dropped := 0
	for i := 0; i < 61; i++ {
		out, err := f.pipeline.Process(context.Background(), models.Ping{DeviceToken: "device-a", Coordinate: away()})
		require.NoError(t, err)
		if out.State == pipeline.StateDropped {
			assert.Equal(t, "rate_limited", out.Reason)
			dropped++
		}
		f.advance(30 * time.Second)
	}
	assert.Equal(t, 1, dropped)
	assert.Equal(t, before+1, testutil.ToFloat64(limited))
}

func TestProcess_EvenlySpacedPingsAreNeverDropped(t *testing.T) {
	f := newFixture(t, pipeline.Config{})

	for i := 0; i < 60; i++ {
		out, err := f.pipeline.Process(context.Background(), models.Ping{DeviceToken: "device-a", Coordinate: away()})
		require.NoError(t, err)
		assert.True(t, out.Accepted(), "ping %d", i)
		f.advance(time.Minute)
	}
}

func TestProcess_BreachNotifiesWithoutIdentity(t *testing.T) {
	f := newFixture(t, pipeline.Config{})
	inside := geo.OffsetNorth(campus, 50)

	var captured models.BreachEvent
	f.notifier.On("Notify", mock.Anything, mock.AnythingOfType("models.BreachEvent")).
		Run(func(args mock.Arguments) { captured = args.Get(1).(models.BreachEvent) }).
		Return(nil).Once()

	out, err := f.pipeline.Process(context.Background(), models.Ping{DeviceToken: "device-secret", Coordinate: inside, Timestamp: t0})
	require.NoError(t, err)

	assert.Equal(t, pipeline.StateBreachEmitted, out.State)
	assert.Equal(t, "server-room", out.ZoneID)
	assert.NotEmpty(t, out.EventID)
	assert.True(t, out.Aggregated)

	assert.Equal(t, out.EventID, captured.EventID)
	assert.Equal(t, "server-room", captured.ZoneID)
	assert.Equal(t, "Server room", captured.ZoneName)
	assert.Equal(t, "high", captured.Severity)
	assert.Equal(t, "Authorised staff only", captured.Description)
	assert.Equal(t, inside, captured.Coordinate)
	assert.Equal(t, t0, captured.OccurredAt)
	assert.NotContains(t, fmt.Sprintf("%+v", captured), "device-secret")
	f.notifier.AssertExpectations(t)
}

func TestProcess_NotifierFailureIsNotSurfaced(t *testing.T) {
	f := newFixture(t, pipeline.Config{})
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
	before := testutil.ToFloat64(metrics.NotifyFailuresTotal)

	out, err := f.pipeline.Process(context.Background(), models.Ping{DeviceToken: "device-a", Coordinate: campus})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateBreachEmitted, out.State)
	f.notifier.AssertNumberOfCalls(t, "Notify", 1)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.NotifyFailuresTotal))
}

func TestProcess_NotifierGetsDeadline(t *testing.T) {
	f := newFixture(t, pipeline.Config{NotifyTimeout: time.Second})
	f.notifier.On("Notify", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), mock.Anything).Return(nil).Once()

	_, err := f.pipeline.Process(context.Background(), models.Ping{DeviceToken: "device-a", Coordinate: campus})
	require.NoError(t, err)
	f.notifier.AssertExpectations(t)
}

func TestProcess_OutOfBoundsStillGeofenced(t *testing.T) {
	f := newFixture(t, pipeline.Config{})
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil).Once()

	out, err := f.pipeline.Process(context.Background(), models.Ping{
		DeviceToken: "device-a",
		Coordinate:  geo.Coordinate{Latitude: 14, Longitude: 77.6},
	})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateBreachEmitted, out.State)
	assert.Equal(t, "off-campus-depot", out.ZoneID)
	assert.False(t, out.Aggregated)
	assert.Equal(t, "out_of_bounds", out.Reason)
}

func TestProcess_FutureTimestampUsesServerTime(t *testing.T) {
	f := newFixture(t, pipeline.Config{MaxClockSkew: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := f.pipeline.Process(context.Background(), models.Ping{
			DeviceToken: fmt.Sprintf("device-%d", i),
			Coordinate:  away(),
			Timestamp:   t0.Add(6 * time.Hour),
		})
		require.NoError(t, err)
	}

	snap, err := f.aggregator.Snapshot(aggregator.Window15Min, t0)
	require.NoError(t, err)
	require.Len(t, snap.Cells, 1)
	assert.Equal(t, t0, snap.Cells[0].LastUpdated)
}

func TestProcess_SkewedTimestampDoesNotRollWindows(t *testing.T) {
	f := newFixture(t, pipeline.Config{MaxClockSkew: 2 * time.Minute})
	f.advance(14 * time.Minute)
	now := t0.Add(14 * time.Minute)

	for i := 0; i < 3; i++ {
		_, err := f.pipeline.Process(context.Background(), models.Ping{
			DeviceToken: fmt.Sprintf("device-%d", i),
			Coordinate:  away(),
			Timestamp:   now,
		})
		require.NoError(t, err)
	}
	// Within the allowed skew but past the 09:15 boundary.
	out, err := f.pipeline.Process(context.Background(), models.Ping{
		DeviceToken: "device-fast-clock",
		Coordinate:  away(),
		Timestamp:   t0.Add(15*time.Minute + 30*time.Second),
	})
	require.NoError(t, err)
	assert.True(t, out.Aggregated)

	snap, err := f.aggregator.Snapshot(aggregator.Window15Min, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, t0, snap.WindowStart)
	require.Len(t, snap.Cells, 1)
	assert.Equal(t, 4, snap.Cells[0].Count)
}

func TestProcess_StaleTimestampIsNotAggregated(t *testing.T) {
	f := newFixture(t, pipeline.Config{})

	out, err := f.pipeline.Process(context.Background(), models.Ping{
		DeviceToken: "device-a",
		Coordinate:  away(),
		Timestamp:   t0.Add(-72 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateClean, out.State)
	assert.False(t, out.Aggregated)
	assert.Equal(t, "stale", out.Reason)
}

func TestProcess_KAnonymityEndToEnd(t *testing.T) {
	f := newFixture(t, pipeline.Config{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.pipeline.Process(ctx, models.Ping{DeviceToken: fmt.Sprintf("device-%d", i), Coordinate: away(), Timestamp: t0})
		require.NoError(t, err)
	}
	snap, err := f.aggregator.Snapshot(aggregator.Window15Min, t0)
	require.NoError(t, err)
	assert.Empty(t, snap.Cells)

	// Same device again does not push the cell over the threshold.
	_, err = f.pipeline.Process(ctx, models.Ping{DeviceToken: "device-1", Coordinate: away(), Timestamp: t0})
	require.NoError(t, err)
	snap, err = f.aggregator.Snapshot(aggregator.Window15Min, t0)
	require.NoError(t, err)
	assert.Empty(t, snap.Cells)

	_, err = f.pipeline.Process(ctx, models.Ping{DeviceToken: "device-2", Coordinate: away(), Timestamp: t0})
	require.NoError(t, err)
	snap, err = f.aggregator.Snapshot(aggregator.Window15Min, t0)
	require.NoError(t, err)
	require.Len(t, snap.Cells, 1)
	assert.Equal(t, 3, snap.Cells[0].Count)
	assert.Equal(t, geo.Encode(away(), geo.DefaultCellPrecision), snap.Cells[0].CellID)
}

type panickingAggregator struct{}

func (panickingAggregator) Record(string, string, time.Time, time.Time) bool {
	panic("boom")
}

func newPanickingPipeline(t *testing.T, strict bool) *pipeline.Pipeline {
	t.Helper()
	anonymizer, err := anon.NewAnonymizerWithKey([]byte("test-key"))
	require.NoError(t, err)
	return pipeline.NewPipeline(pipeline.Config{Strict: strict}, ratelimit.NewLimiter(ratelimit.Config{}),
		panickingAggregator{}, catalog.NewStore(), anonymizer, new(mocks.MockNotifier), zerolog.Nop())
}

func TestProcess_RecoversFromPanic(t *testing.T) {
	p := newPanickingPipeline(t, false)

	out, err := p.Process(context.Background(), models.Ping{DeviceToken: "device-a", Coordinate: campus})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateDropped, out.State)
	assert.Equal(t, "internal_error", out.Reason)
}

func TestProcess_StrictModeRepanics(t *testing.T) {
	p := newPanickingPipeline(t, true)

	assert.Panics(t, func() {
		_, _ = p.Process(context.Background(), models.Ping{DeviceToken: "device-a", Coordinate: campus})
	})
}
