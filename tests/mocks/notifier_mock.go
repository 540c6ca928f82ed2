package mocks

import (
	"context"

	"github.com/benmeehan/crowdsense/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockNotifier is a mock implementation of the pipeline Notifier interface
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, event models.BreachEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
