package services

import (
	"errors"
	"testing"
	"time"

	"github.com/benmeehan/crowdsense/internal/metrics_collectors"
	"github.com/benmeehan/crowdsense/internal/models"
	"github.com/benmeehan/crowdsense/tests/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestPublishStats_GivesUpAfterRetries(t *testing.T) {
	mockClient := new(mocks.MockMQTTClient)
	mockClient.On("Publish", "campus/stats", byte(0), false, mock.Anything).
		Return(mocks.NewCompletedToken(errors.New("not connected")))

	svc := NewStatsService("campus/stats", "edge-1", time.Hour, time.Second, 0, mockClient,
		metrics_collectors.NewMetricsRegistry(zerolog.Nop()), zerolog.Nop())
	svc.retryDelay = 0

	err := svc.PublishStats(&models.EngineStats{Instance: "edge-1"})

	assert.EqualError(t, err, "failed to publish stats after 3 retries")
	mockClient.AssertNumberOfCalls(t, "Publish", 3)
}
