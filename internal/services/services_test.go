package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benmeehan/location-agent/internal/dispatcher"
	"github.com/benmeehan/location-agent/internal/mocks"
	"github.com/benmeehan/location-agent/internal/models"
	"github.com/benmeehan/location-agent/internal/services"
	"github.com/benmeehan/location-agent/pkg/location"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

// TestLocationService_SampleOnce stamps the device id and submits the fix.
func TestLocationService_SampleOnce(t *testing.T) {
	mockDeviceInfo := new(mocks.MockDeviceInfo)
	mockProvider := new(mocks.MockProvider)
	mockSync := new(mocks.MockSyncAPI)

	mockDeviceInfo.On("GetDeviceID").Return("device-1")
	mockProvider.On("GetLocation", mock.Anything).Return(location.Location{
		Latitude:  48.1173,
		Longitude: 11.5167,
		Accuracy:  0.9,
		Altitude:  ptr(545.4),
	}, nil)
	mockSync.On("Submit", mock.Anything, mock.MatchedBy(func(s models.LocationSample) bool {
		return s.DeviceID == "device-1" && s.Latitude == 48.1173 && s.Timestamp > 0 && *s.Altitude == 545.4
	})).Return(dispatcher.Outcome{Status: dispatcher.Queued, OperationID: "op-1"}, nil)

	l := services.NewLocationService(time.Minute, mockDeviceInfo, mockSync, zerolog.Nop(), mockProvider)

	outcome, err := l.SampleOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, dispatcher.Queued, outcome.Status)
	mockSync.AssertExpectations(t)
}

// TestLocationService_SampleOnce_ProviderError does not submit when no fix is available.
func TestLocationService_SampleOnce_ProviderError(t *testing.T) {
	mockDeviceInfo := new(mocks.MockDeviceInfo)
	mockProvider := new(mocks.MockProvider)
	mockSync := new(mocks.MockSyncAPI)

	mockProvider.On("GetLocation", mock.Anything).Return(location.Location{}, errors.New("no fix"))

	l := services.NewLocationService(time.Minute, mockDeviceInfo, mockSync, zerolog.Nop(), mockProvider)

	_, err := l.SampleOnce(context.Background())

	assert.Error(t, err)
	mockSync.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

// TestLocationService_StartStop ticks at least once and closes the provider on stop.
func TestLocationService_StartStop(t *testing.T) {
	mockDeviceInfo := new(mocks.MockDeviceInfo)
	mockProvider := new(mocks.MockProvider)
	mockSync := new(mocks.MockSyncAPI)

	mockDeviceInfo.On("GetDeviceID").Return("device-1")
	mockProvider.On("GetLocation", mock.Anything).Return(location.Location{Latitude: 1, Longitude: 2}, nil)
	mockProvider.On("Close").Return(nil).Once()
	mockSync.On("Submit", mock.Anything, mock.Anything).Return(dispatcher.Outcome{Status: dispatcher.Sent}, nil)

	l := services.NewLocationService(50*time.Millisecond, mockDeviceInfo, mockSync, zerolog.Nop(), mockProvider)

	require.NoError(t, l.Start())
	err := l.Start()
	assert.EqualError(t, err, "location service is already running")

	time.Sleep(120 * time.Millisecond)

	require.NoError(t, l.Stop())
	assert.EqualError(t, l.Stop(), "location service is not running")
	mockSync.AssertCalled(t, "Submit", mock.Anything, mock.Anything)
	mockProvider.AssertExpectations(t)
}

// TestHeartbeatService_Start_Success tests the successful start of the HeartbeatService.
func TestHeartbeatService_Start_Success(t *testing.T) {
	mockDeviceInfo := new(mocks.MockDeviceInfo)
	mockPublisher := new(mocks.MockPublisher)
	mockSync := new(mocks.MockSyncAPI)

	h := services.NewHeartbeatService("test-topic", time.Second, 1, mockDeviceInfo, mockPublisher, mockSync, zerolog.Nop())

	err := h.Start()
	assert.NoError(t, err)

	// Try to start again (should fail)
	err = h.Start()
	assert.EqualError(t, err, "heartbeat service is already running")

	assert.NoError(t, h.Stop())
	assert.EqualError(t, h.Stop(), "heartbeat service is not running")
}

// TestHeartbeatService_PublishesSyncStatus checks the heartbeat payload carries queue status.
func TestHeartbeatService_PublishesSyncStatus(t *testing.T) {
	mockDeviceInfo := new(mocks.MockDeviceInfo)
	mockPublisher := new(mocks.MockPublisher)
	mockSync := new(mocks.MockSyncAPI)

	mockDeviceInfo.On("GetDeviceID").Return("device-1")
	mockSync.On("Report").Return(dispatcher.Report{
		State:           "idle",
		Connectivity:    "offline",
		QueueDepth:      3,
		DeadLetterDepth: 1,
	})

	published := make(chan []byte, 4)
	mockPublisher.On("Publish", "test-topic", byte(1), false, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			published <- args.Get(3).([]byte)
		}).
		Return(nil)

	h := services.NewHeartbeatService("test-topic", 50*time.Millisecond, 1, mockDeviceInfo, mockPublisher, mockSync, zerolog.Nop())
	require.NoError(t, h.Start())
	defer h.Stop()

	select {
	case payload := <-published:
		var hb models.Heartbeat
		require.NoError(t, json.Unmarshal(payload, &hb))
		assert.Equal(t, "device-1", hb.DeviceID)
		assert.Equal(t, "alive", hb.Status)
		assert.Equal(t, "offline", hb.Connectivity)
		assert.Equal(t, 3, hb.QueueDepth)
		assert.Equal(t, 1, hb.DeadLetterDepth)
	case <-time.After(time.Second):
		t.Fatal("no heartbeat published")
	}
}

// TestHeartbeatService_PublishError keeps running after a failed publish.
func TestHeartbeatService_PublishError(t *testing.T) {
	mockDeviceInfo := new(mocks.MockDeviceInfo)
	mockPublisher := new(mocks.MockPublisher)
	mockSync := new(mocks.MockSyncAPI)

	mockDeviceInfo.On("GetDeviceID").Return("device-1")
	mockSync.On("Report").Return(dispatcher.Report{})
	mockPublisher.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("publish failed"))

	h := services.NewHeartbeatService("test-topic", 50*time.Millisecond, 0, mockDeviceInfo, mockPublisher, mockSync, zerolog.Nop())
	require.NoError(t, h.Start())

	time.Sleep(130 * time.Millisecond)

	assert.NoError(t, h.Stop())
	mockPublisher.AssertExpectations(t)
}

// TestRetentionService_RunOnce deletes relative to the current time.
func TestRetentionService_RunOnce(t *testing.T) {
	mockSync := new(mocks.MockSyncAPI)
	maxAge := 24 * time.Hour

	before := time.Now().Add(-maxAge).UnixMilli()
	mockSync.On("DeleteOlderThan", mock.Anything, mock.MatchedBy(func(cutoff int64) bool {
		return cutoff >= before && cutoff <= time.Now().Add(-maxAge).UnixMilli()
	})).Return(dispatcher.Outcome{Status: dispatcher.Sent, Deleted: 4}, nil)

	r := services.NewRetentionService(time.Hour, maxAge, mockSync, zerolog.Nop())

	outcome, err := r.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(4), outcome.Deleted)
	mockSync.AssertExpectations(t)
}

// TestRetentionService_StartStop runs the loop and rejects double start.
func TestRetentionService_StartStop(t *testing.T) {
	mockSync := new(mocks.MockSyncAPI)
	mockSync.On("DeleteOlderThan", mock.Anything, mock.Anything).Return(dispatcher.Outcome{Status: dispatcher.Queued}, nil)

	r := services.NewRetentionService(40*time.Millisecond, time.Hour, mockSync, zerolog.Nop())

	require.NoError(t, r.Start())
	assert.EqualError(t, r.Start(), "retention service is already running")

	time.Sleep(100 * time.Millisecond)

	require.NoError(t, r.Stop())
	assert.EqualError(t, r.Stop(), "retention service is not running")
	mockSync.AssertCalled(t, "DeleteOlderThan", mock.Anything, mock.Anything)
}
