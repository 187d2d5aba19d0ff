package mocks

import (
	"context"
	"time"

	"github.com/benmeehan/location-agent/internal/dispatcher"
	"github.com/benmeehan/location-agent/internal/models"
	"github.com/benmeehan/location-agent/pkg/location"
	"github.com/stretchr/testify/mock"
)

// MockProvider is a mock implementation of the location.Provider interface
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) GetLocation(ctx context.Context) (location.Location, error) {
	args := m.Called(ctx)
	return args.Get(0).(location.Location), args.Error(1)
}

func (m *MockProvider) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockPublisher is a mock implementation of the services.Publisher interface
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, qos byte, retained bool, payload interface{}, timeout time.Duration) error {
	args := m.Called(topic, qos, retained, payload, timeout)
	return args.Error(0)
}

// MockSyncAPI is a mock implementation of the services.SyncAPI interface.
// It also satisfies Submitter, Deleter and StatusReporter.
type MockSyncAPI struct {
	mock.Mock
}

func (m *MockSyncAPI) Submit(ctx context.Context, sample models.LocationSample) (dispatcher.Outcome, error) {
	args := m.Called(ctx, sample)
	return args.Get(0).(dispatcher.Outcome), args.Error(1)
}

func (m *MockSyncAPI) DeleteOlderThan(ctx context.Context, olderThan int64) (dispatcher.Outcome, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(dispatcher.Outcome), args.Error(1)
}

func (m *MockSyncAPI) Report() dispatcher.Report {
	args := m.Called()
	return args.Get(0).(dispatcher.Report)
}

func (m *MockSyncAPI) Query(ctx context.Context, start, end int64) (dispatcher.QueryResult, error) {
	args := m.Called(ctx, start, end)
	return args.Get(0).(dispatcher.QueryResult), args.Error(1)
}

func (m *MockSyncAPI) Drain(ctx context.Context) (dispatcher.DrainReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(dispatcher.DrainReport), args.Error(1)
}

func (m *MockSyncAPI) DropFront() (models.QueuedOperation, error) {
	args := m.Called()
	return args.Get(0).(models.QueuedOperation), args.Error(1)
}

func (m *MockSyncAPI) Pending() []models.QueuedOperation {
	args := m.Called()
	ops, _ := args.Get(0).([]models.QueuedOperation)
	return ops
}

func (m *MockSyncAPI) DeadLetters() []models.QueuedOperation {
	args := m.Called()
	ops, _ := args.Get(0).([]models.QueuedOperation)
	return ops
}
