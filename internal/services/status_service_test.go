package services_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/benmeehan/location-agent/internal/dispatcher"
	"github.com/benmeehan/location-agent/internal/mocks"
	"github.com/benmeehan/location-agent/internal/models"
	"github.com/benmeehan/location-agent/internal/queue"
	"github.com/benmeehan/location-agent/internal/services"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newStatusServer(t *testing.T) (*mocks.MockSyncAPI, *httptest.Server) {
	t.Helper()
	mockSync := new(mocks.MockSyncAPI)
	svc := services.NewStatusService("127.0.0.1:0", mockSync, zerolog.Nop())
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return mockSync, srv
}

func do(t *testing.T, method, url, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStatusService_Status(t *testing.T) {
	mockSync, srv := newStatusServer(t)
	mockSync.On("Report").Return(dispatcher.Report{State: "idle", Connectivity: "online", QueueDepth: 2})

	resp := do(t, http.MethodGet, srv.URL+"/status", "", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report dispatcher.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, 2, report.QueueDepth)
	assert.Equal(t, "online", report.Connectivity)
}

func TestStatusService_SubmitQueued(t *testing.T) {
	mockSync, srv := newStatusServer(t)
	mockSync.On("Submit", mock.Anything, mock.MatchedBy(func(s models.LocationSample) bool {
		return s.DeviceID == "device-1" && s.Timestamp == 1000
	})).Return(dispatcher.Outcome{Status: dispatcher.Queued, OperationID: "op-1"}, nil)

	header := http.Header{}
	header.Set("device-id", "device-1")
	resp := do(t, http.MethodPost, srv.URL+"/locations", `{"latitude":1,"longitude":2,"timestamp":1000}`, header)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	var outcome dispatcher.Outcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&outcome))
	assert.Equal(t, dispatcher.Queued, outcome.Status)
	assert.Equal(t, "op-1", outcome.OperationID)
}

func TestStatusService_SubmitRejected(t *testing.T) {
	mockSync, srv := newStatusServer(t)
	mockSync.On("Submit", mock.Anything, mock.Anything).
		Return(dispatcher.Outcome{Status: dispatcher.Rejected, Reason: "malformed payload"}, nil)

	resp := do(t, http.MethodPost, srv.URL+"/locations", `{"latitude":91,"longitude":2,"timestamp":1,"deviceId":"d"}`, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestStatusService_SubmitInvalidJSON(t *testing.T) {
	mockSync, srv := newStatusServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/locations", `{`, nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	mockSync.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestStatusService_SubmitPersistenceFailure(t *testing.T) {
	mockSync, srv := newStatusServer(t)
	mockSync.On("Submit", mock.Anything, mock.Anything).
		Return(dispatcher.Outcome{}, &queue.PersistenceError{Op: "enqueue", Err: errors.New("disk full")})

	resp := do(t, http.MethodPost, srv.URL+"/locations", `{"latitude":1,"longitude":2,"timestamp":1,"deviceId":"d"}`, nil)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestStatusService_Query(t *testing.T) {
	mockSync, srv := newStatusServer(t)
	mockSync.On("Query", mock.Anything, int64(10), int64(20)).Return(dispatcher.QueryResult{
		Source:  dispatcher.SourceCache,
		Samples: []models.LocationSample{{Latitude: 1, Longitude: 2, Timestamp: 15, DeviceID: "d"}},
	}, nil)

	resp := do(t, http.MethodGet, srv.URL+"/locations?startTime=10&endTime=20", "", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result dispatcher.QueryResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, dispatcher.SourceCache, result.Source)
	require.Len(t, result.Samples, 1)
	assert.Equal(t, int64(15), result.Samples[0].Timestamp)
}

func TestStatusService_QueryBadRange(t *testing.T) {
	mockSync, srv := newStatusServer(t)
	mockSync.On("Query", mock.Anything, int64(20), int64(10)).
		Return(dispatcher.QueryResult{}, &models.MalformedPayloadError{Err: errors.New("start after end")})

	resp := do(t, http.MethodGet, srv.URL+"/locations?startTime=20&endTime=10", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/locations?startTime=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusService_Delete(t *testing.T) {
	mockSync, srv := newStatusServer(t)
	mockSync.On("DeleteOlderThan", mock.Anything, int64(5000)).
		Return(dispatcher.Outcome{Status: dispatcher.Sent, Deleted: 7}, nil)

	resp := do(t, http.MethodDelete, srv.URL+"/locations?olderThan=5000", "", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var outcome dispatcher.Outcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&outcome))
	assert.Equal(t, int64(7), outcome.Deleted)
}

func TestStatusService_DeleteDefaultsToNow(t *testing.T) {
	mockSync, srv := newStatusServer(t)
	mockSync.On("DeleteOlderThan", mock.Anything, mock.MatchedBy(func(v int64) bool { return v > 0 })).
		Return(dispatcher.Outcome{Status: dispatcher.Queued}, nil)

	resp := do(t, http.MethodDelete, srv.URL+"/locations", "", nil)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	mockSync.AssertExpectations(t)
}

func TestStatusService_QueueAndDropFront(t *testing.T) {
	mockSync, srv := newStatusServer(t)
	front := models.NewDeleteOperation(100)
	mockSync.On("Pending").Return([]models.QueuedOperation{front})
	mockSync.On("DeadLetters").Return(nil)
	mockSync.On("DropFront").Return(front, nil).Once()
	mockSync.On("DropFront").Return(models.QueuedOperation{}, queue.ErrEmpty).Once()

	resp := do(t, http.MethodGet, srv.URL+"/queue", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view struct {
		Pending []models.QueuedOperation `json:"pending"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	require.Len(t, view.Pending, 1)
	assert.Equal(t, front.ID, view.Pending[0].ID)

	resp = do(t, http.MethodDelete, srv.URL+"/queue/front", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodDelete, srv.URL+"/queue/front", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusService_Drain(t *testing.T) {
	mockSync, srv := newStatusServer(t)
	mockSync.On("Drain", mock.Anything).Return(dispatcher.DrainReport{Result: dispatcher.DrainEmptied, Sent: 3}, nil)

	resp := do(t, http.MethodPost, srv.URL+"/sync/drain", "", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report dispatcher.DrainReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, dispatcher.DrainEmptied, report.Result)
	assert.Equal(t, 3, report.Sent)
}

func TestStatusService_Metrics(t *testing.T) {
	_, srv := newStatusServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/metrics", "", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusService_StartStop(t *testing.T) {
	mockSync := new(mocks.MockSyncAPI)
	mockSync.On("Report").Return(dispatcher.Report{State: "idle"})
	svc := services.NewStatusService("127.0.0.1:0", mockSync, zerolog.Nop())

	require.NoError(t, svc.Start())
	assert.EqualError(t, svc.Start(), "status service is already running")

	resp := do(t, http.MethodGet, "http://"+svc.Addr()+"/status", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, svc.Stop())
	assert.EqualError(t, svc.Stop(), "status service is not running")
	assert.Empty(t, svc.Addr())
}
