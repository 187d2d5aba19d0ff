package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/benmeehan/location-agent/internal/metrics"
	"github.com/benmeehan/location-agent/internal/models"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

const (
	// DefaultTimeout bounds every backend call.
	DefaultTimeout = 10 * time.Second
	// DeviceIDHeader carries the submitting device's identity.
	DeviceIDHeader = "device-id"

	opSubmit = "submit"
	opFetch  = "fetch_range"
	opDelete = "delete_older_than"
)

// Client is the request abstraction the dispatcher sends writes and reads through.
// Implementations never retry; every failure is returned as *Error.
type Client interface {
	Submit(ctx context.Context, sample models.LocationSample) (*models.LocationRecord, error)
	FetchRange(ctx context.Context, start, end int64) ([]models.LocationSample, error)
	DeleteOlderThan(ctx context.Context, olderThan int64) (int64, error)
}

// BreakerConfig enables fail-fast behaviour while the backend keeps failing.
type BreakerConfig struct {
	Enabled          bool
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Config describes the backend endpoint.
type Config struct {
	BaseURL       string // e.g. http://backend:3000/api
	SubmitPath    string // /locations or /user/trace-movement
	LocationsPath string
	DeviceID      string
	Timeout       time.Duration
	Breaker       BreakerConfig
}

// DeleteResult is the backend's response to a delete.
type DeleteResult struct {
	Message string `json:"message"`
	Deleted int64  `json:"deleted"`
}

// HTTPClient talks to the location backend over HTTP.
type HTTPClient struct {
	cfg    Config
	client *http.Client
	cb     *gobreaker.CircuitBreaker[any]
	logger zerolog.Logger
}

// NewHTTPClient creates a client. A nil httpClient gets one with cfg.Timeout.
func NewHTTPClient(cfg Config, httpClient *http.Client, logger zerolog.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SubmitPath == "" {
		cfg.SubmitPath = "/locations"
	}
	if cfg.LocationsPath == "" {
		cfg.LocationsPath = "/locations"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &HTTPClient{cfg: cfg, client: httpClient, logger: logger}
	if cfg.Breaker.Enabled {
		c.cb = newBreaker(cfg.Breaker, logger)
	}
	return c
}

func newBreaker(cfg BreakerConfig, logger zerolog.Logger) *gobreaker.CircuitBreaker[any] {
	const name = "location-backend"
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A rejection proves the backend is up.
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Submit posts a sample. The echoed record is nil when the backend answers 2xx without a decodable body.
func (c *HTTPClient) Submit(ctx context.Context, sample models.LocationSample) (*models.LocationRecord, error) {
	body, err := json.Marshal(sample)
	if err != nil {
		return nil, &Error{Op: opSubmit, Kind: Rejected, Err: err}
	}

	deviceID := sample.DeviceID
	if deviceID == "" {
		deviceID = c.cfg.DeviceID
	}

	res, err := c.execute(ctx, opSubmit, func() (any, error) {
		return c.do(ctx, opSubmit, http.MethodPost, c.cfg.BaseURL+c.cfg.SubmitPath, deviceID, body)
	})
	if err != nil {
		return nil, err
	}

	var record models.LocationRecord
	if err := json.Unmarshal(res.([]byte), &record); err != nil {
		c.logger.Debug().Err(err).Msg("Backend accepted sample without a decodable record")
		return nil, nil
	}
	return &record, nil
}

// FetchRange returns samples with start <= timestamp <= end in ascending order.
func (c *HTTPClient) FetchRange(ctx context.Context, start, end int64) ([]models.LocationSample, error) {
	q := url.Values{}
	q.Set("startTime", strconv.FormatInt(start, 10))
	q.Set("endTime", strconv.FormatInt(end, 10))
	endpoint := c.cfg.BaseURL + c.cfg.LocationsPath + "?" + q.Encode()

	res, err := c.execute(ctx, opFetch, func() (any, error) {
		return c.do(ctx, opFetch, http.MethodGet, endpoint, c.cfg.DeviceID, nil)
	})
	if err != nil {
		return nil, err
	}

	var samples []models.LocationSample
	if err := json.Unmarshal(res.([]byte), &samples); err != nil {
		return nil, &Error{Op: opFetch, Kind: Transient, Err: fmt.Errorf("decode response: %w", err)}
	}
	if samples == nil {
		samples = []models.LocationSample{}
	}
	return samples, nil
}

// DeleteOlderThan removes backend records with timestamp < olderThan and returns how many went.
func (c *HTTPClient) DeleteOlderThan(ctx context.Context, olderThan int64) (int64, error) {
	endpoint := c.cfg.BaseURL + c.cfg.LocationsPath + "?olderThan=" + strconv.FormatInt(olderThan, 10)

	res, err := c.execute(ctx, opDelete, func() (any, error) {
		return c.do(ctx, opDelete, http.MethodDelete, endpoint, c.cfg.DeviceID, nil)
	})
	if err != nil {
		return 0, err
	}

	var result DeleteResult
	if err := json.Unmarshal(res.([]byte), &result); err != nil {
		c.logger.Debug().Err(err).Msg("Backend confirmed delete without a count")
		return 0, nil
	}
	return result.Deleted, nil
}

// execute runs fn through the breaker when one is configured and records metrics.
func (c *HTTPClient) execute(ctx context.Context, op string, fn func() (any, error)) (any, error) {
	start := time.Now()
	var (
		res any
		err error
	)
	if c.cb != nil {
		res, err = c.cb.Execute(fn)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &Error{Op: op, Kind: Transient, Err: err}
		}
	} else {
		res, err = fn()
	}
	metrics.TransportDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.TransportRequests.WithLabelValues(op, "success").Inc()
	case IsPermanent(err):
		metrics.TransportRequests.WithLabelValues(op, "rejected").Inc()
	default:
		metrics.TransportRequests.WithLabelValues(op, "transient").Inc()
	}
	return res, err
}

// do performs one request and returns the 2xx body.
func (c *HTTPClient) do(ctx context.Context, op, method, endpoint, deviceID string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, &Error{Op: op, Kind: Rejected, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if deviceID != "" {
		req.Header.Set(DeviceIDHeader, deviceID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Kind: Transient, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: op, Kind: Transient, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Op:         op,
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("backend responded %s: %s", resp.Status, strings.TrimSpace(string(data))),
		}
	}
	return data, nil
}
