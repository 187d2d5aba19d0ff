package mocks

import (
	"context"

	"github.com/benmeehan/location-agent/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockTransport is a mock implementation of the transport.Client interface
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Submit(ctx context.Context, sample models.LocationSample) (*models.LocationRecord, error) {
	args := m.Called(ctx, sample)
	record, _ := args.Get(0).(*models.LocationRecord)
	return record, args.Error(1)
}

func (m *MockTransport) FetchRange(ctx context.Context, start, end int64) ([]models.LocationSample, error) {
	args := m.Called(ctx, start, end)
	samples, _ := args.Get(0).([]models.LocationSample)
	return samples, args.Error(1)
}

func (m *MockTransport) DeleteOlderThan(ctx context.Context, olderThan int64) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

// SubmittedTimestamps returns the timestamps passed to Submit, in call order.
func (m *MockTransport) SubmittedTimestamps() []int64 {
	var out []int64
	for _, call := range m.Calls {
		if call.Method == "Submit" {
			out = append(out, call.Arguments.Get(1).(models.LocationSample).Timestamp)
		}
	}
	return out
}
