package services

import (
	"context"
	"github.com/goccy/go-json"
	"errors"
	"sync"
	"time"

	"github.com/benmeehan/location-agent/internal/dispatcher"
	"github.com/benmeehan/location-agent/internal/models"
	"github.com/benmeehan/location-agent/pkg/identity"
	"github.com/rs/zerolog"
)

const (
	statusAlive    = "alive"
	publishTimeout = 5 * time.Second
)

// Publisher sends a payload to a broker topic.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}, timeout time.Duration) error
}

// StatusReporter exposes the sync status included in heartbeats.
type StatusReporter interface {
	Report() dispatcher.Report
}

// HeartbeatService manages periodic heartbeat messages carrying sync status.
type HeartbeatService struct {
	PubTopic   string
	Interval   time.Duration
	QOS        int
	DeviceInfo identity.DeviceInfoInterface
	Publisher  Publisher
	Status     StatusReporter
	Logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHeartbeatService initializes a new HeartbeatService.
func NewHeartbeatService(pubTopic string, interval time.Duration, qos int, deviceInfo identity.DeviceInfoInterface,
	publisher Publisher, status StatusReporter, logger zerolog.Logger) *HeartbeatService {

	return &HeartbeatService{
		PubTopic:   pubTopic,
		Interval:   interval,
		QOS:        qos,
		DeviceInfo: deviceInfo,
		Publisher:  publisher,
		Status:     status,
		Logger:     logger,
	}
}

// Start launches the heartbeat loop in a separate goroutine.
func (h *HeartbeatService) Start() error {
	if h.ctx != nil {
		h.Logger.Warn().Msg("HeartbeatService is already running")
		return errors.New("heartbeat service is already running")
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runHeartbeatLoop()
	}()

	h.Logger.Info().Str("topic", h.PubTopic).Msg("HeartbeatService started successfully")
	return nil
}

// Stop gracefully stops the heartbeat service.
func (h *HeartbeatService) Stop() error {
	if h.ctx == nil {
		h.Logger.Warn().Msg("HeartbeatService is not running")
		return errors.New("heartbeat service is not running")
	}

	h.cancel()
	h.wg.Wait()

	h.ctx = nil
	h.cancel = nil

	h.Logger.Info().Msg("HeartbeatService stopped successfully")
	return nil
}

func (h *HeartbeatService) runHeartbeatLoop() {
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := h.publish(); err != nil {
				h.Logger.Error().Err(err).Msg("Failed to publish heartbeat message")
			} else {
				h.Logger.Debug().Msg("Heartbeat published successfully")
			}

		case <-h.ctx.Done():
			h.Logger.Info().Msg("HeartbeatService stopping gracefully")
			return
		}
	}
}

func (h *HeartbeatService) publish() error {
	report := h.Status.Report()
	heartbeatMessage := models.Heartbeat{
		DeviceID:        h.DeviceInfo.GetDeviceID(),
		Timestamp:       time.Now(),
		Status:          statusAlive,
		Connectivity:    report.Connectivity,
		DispatcherState: report.State,
		QueueDepth:      report.QueueDepth,
		DeadLetterDepth: report.DeadLetterDepth,
	}

	payload, err := json.Marshal(heartbeatMessage)
	if err != nil {
		return err
	}
	return h.Publisher.Publish(h.PubTopic, byte(h.QOS), false, payload, publishTimeout)
}
