package services_test

import (
	"testing"
	"time"

	"github.com/benmeehan/crowdsense/internal/aggregator"
	"github.com/benmeehan/crowdsense/internal/ratelimit"
	"github.com/benmeehan/crowdsense/internal/services"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestSweeperService_SweepsOnStart(t *testing.T) {
	// Setup
	limiter := ratelimit.NewLimiter(ratelimit.Config{InactivityTTL: time.Hour})
	limiter.Allow("idle", t0)
	agg, err := aggregator.NewAggregator(aggregator.Config{})
	require.NoError(t, err)

	now := t0.Add(2 * time.Hour)
	sweeper := services.NewSweeperService(time.Hour, limiter, agg, zerolog.Nop()).
		WithClock(func() time.Time { return now })

	// Execute
	require.NoError(t, sweeper.Start())
	defer sweeper.Stop()

	// Assert
	assert.Equal(t, 0, limiter.Tracked())
	snap, err := agg.Snapshot(aggregator.Window15Min, now)
	require.NoError(t, err)
	assert.Equal(t, now, snap.WindowStart)
	assert.True(t, agg.Record("tdr1v9q", "d", now, now))
}

func TestSweeperService_StartStopTwice(t *testing.T) {
	agg, err := aggregator.NewAggregator(aggregator.Config{})
	require.NoError(t, err)
	sweeper := services.NewSweeperService(time.Hour, ratelimit.NewLimiter(ratelimit.Config{}), agg, zerolog.Nop())

	require.NoError(t, sweeper.Start())
	assert.EqualError(t, sweeper.Start(), "sweeper service is already running")
	require.NoError(t, sweeper.Stop())
	assert.EqualError(t, sweeper.Stop(), "sweeper service is not running")
}

func TestSweeperService_RollsWindows(t *testing.T) {
	agg, err := aggregator.NewAggregator(aggregator.Config{})
	require.NoError(t, err)
	now := t0
	sweeper := services.NewSweeperService(time.Hour, ratelimit.NewLimiter(ratelimit.Config{}), agg, zerolog.Nop()).
		WithClock(func() time.Time { return now })

	sweeper.Sweep()
	agg.Record("tdr1v9q", "d", now, now)

	now = t0.Add(20 * time.Minute)
	sweeper.Sweep()

	snap, err := agg.Snapshot(aggregator.Window15Min, now)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(15*time.Minute), snap.WindowStart)
}
