package service_registry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benmeehan/location-agent/internal/mocks"
	"github.com/benmeehan/location-agent/internal/models"
	"github.com/benmeehan/location-agent/internal/utils"
	"github.com/benmeehan/location-agent/pkg/file"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	name     string
	startErr error
	log      *[]string
}

func (f *fakeService) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	*f.log = append(*f.log, "start:"+f.name)
	return nil
}

func (f *fakeService) Stop() error {
	*f.log = append(*f.log, "stop:"+f.name)
	return nil
}

func TestStartServices_OrderAndReverseStop(t *testing.T) {
	var calls []string
	sr := NewServiceRegistry(nil, file.NewFileService(), zerolog.Nop())
	sr.RegisterService("a", &fakeService{name: "a", log: &calls})
	sr.RegisterService("b", &fakeService{name: "b", log: &calls})
	sr.RegisterService("a", &fakeService{name: "dup", log: &calls})

	require.NoError(t, sr.StartServices())
	require.NoError(t, sr.StopServices())

	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, calls)
	assert.Equal(t, []string{"a", "b"}, sr.Services())
}

func TestStartServices_RollsBackOnFailure(t *testing.T) {
	var calls []string
	sr := NewServiceRegistry(nil, file.NewFileService(), zerolog.Nop())
	sr.RegisterService("a", &fakeService{name: "a", log: &calls})
	sr.RegisterService("b", &fakeService{name: "b", log: &calls, startErr: errors.New("boom")})
	sr.RegisterService("c", &fakeService{name: "c", log: &calls})

	err := sr.StartServices()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "start b")
	assert.Equal(t, []string{"start:a", "stop:a"}, calls)
}

func testConfig(t *testing.T, baseURL string) *utils.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := &utils.Config{}
	cfg.Backend.BaseURL = baseURL
	cfg.Sync.QueueFile = filepath.Join(dir, "queue.json")
	cfg.Sync.DeadLetterFile = filepath.Join(dir, "dead_letter.json")
	cfg.Sync.BadgerDir = filepath.Join(dir, "badger")
	cfg.Connectivity.Interval = 50 * time.Millisecond
	cfg.Connectivity.Timeout = time.Second
	cfg.Services.Retention.Enabled = true
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestRegisterServices_DrainsRestoredQueueOnStart(t *testing.T) {
	var received atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/health":
			w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/locations":
			received.Add(1)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":1,"latitude":1,"longitude":2,"timestamp":1000,"deviceId":"device-1","createdAt":2000}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer backend.Close()

	cfg := testConfig(t, backend.URL)

	// A write queued by a previous run.
	op := models.NewCreateOperation(models.LocationSample{Latitude: 1, Longitude: 2, Timestamp: 1000, DeviceID: "device-1"})
	snapshot, err := json.Marshal([]models.QueuedOperation{op})
	require.NoError(t, err)
	require.NoError(t, file.NewFileService().WriteFileAtomic(cfg.Sync.QueueFile, snapshot))

	deviceInfo := new(mocks.MockDeviceInfo)
	deviceInfo.On("GetDeviceID").Return("device-1")

	sr := NewServiceRegistry(nil, file.NewFileService(), zerolog.Nop())
	require.NoError(t, sr.RegisterServices(cfg, deviceInfo))
	assert.Equal(t, []string{"connectivity", "dispatcher", "retention"}, sr.Services())
	assert.Equal(t, 1, sr.Dispatcher.Report().QueueDepth)

	require.NoError(t, sr.StartServices())
	defer sr.StopServices()

	assert.Eventually(t, func() bool {
		return sr.Dispatcher.Report().QueueDepth == 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(1), received.Load())
}

func TestRegisterServices_BadgerStorageWithDeadLetter(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Sync.Storage = utils.StorageBadger
	cfg.Sync.DeadLetter = true

	deviceInfo := new(mocks.MockDeviceInfo)
	deviceInfo.On("GetDeviceID").Return("device-1")

	sr := NewServiceRegistry(nil, file.NewFileService(), zerolog.Nop())
	require.NoError(t, sr.RegisterServices(cfg, deviceInfo))

	report := sr.Dispatcher.Report()
	assert.True(t, report.DeadLetterEnabled)
	assert.Equal(t, "offline", report.Connectivity)
	assert.NoError(t, sr.Close())
}

func TestRegisterServices_HeartbeatNeedsMQTT(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Services.Heartbeat.Enabled = true

	deviceInfo := new(mocks.MockDeviceInfo)
	deviceInfo.On("GetDeviceID").Return("device-1")

	sr := NewServiceRegistry(nil, file.NewFileService(), zerolog.Nop())
	err := sr.RegisterServices(cfg, deviceInfo)

	assert.EqualError(t, err, "heartbeat service requires mqtt to be enabled")
}
