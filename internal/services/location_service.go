package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benmeehan/location-agent/internal/dispatcher"
	"github.com/benmeehan/location-agent/internal/models"
	"github.com/benmeehan/location-agent/pkg/identity"
	"github.com/benmeehan/location-agent/pkg/location"
	"github.com/rs/zerolog"
)

// Submitter accepts location samples for delivery.
type Submitter interface {
	Submit(ctx context.Context, sample models.LocationSample) (dispatcher.Outcome, error)
}

// LocationService periodically samples the device location and hands it to the dispatcher.
type LocationService struct {
	// Configuration fields
	interval time.Duration

	// Dependencies
	deviceInfo       identity.DeviceInfoInterface
	submitter        Submitter
	logger           zerolog.Logger
	locationProvider location.Provider
	now              func() time.Time

	// Internal state management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLocationService creates a new LocationService instance with the provided configuration.
func NewLocationService(interval time.Duration, deviceInfo identity.DeviceInfoInterface,
	submitter Submitter, logger zerolog.Logger, locationProvider location.Provider) *LocationService {
	return &LocationService{
		interval:         interval,
		deviceInfo:       deviceInfo,
		submitter:        submitter,
		logger:           logger,
		locationProvider: locationProvider,
		now:              time.Now,
	}
}

// Start initiates the LocationService, periodically submitting location samples.
func (l *LocationService) Start() error {
	if l.ctx != nil {
		l.logger.Warn().Msg("LocationService is already running")
		return errors.New("location service is already running")
	}

	l.ctx, l.cancel = context.WithCancel(context.Background())

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := l.SampleOnce(l.ctx); err != nil {
					l.logger.Error().
						Err(err).
						Msg("Failed to submit current location")
				}
			case <-l.ctx.Done():
				l.logger.Info().Msg("LocationService is stopping")
				return
			}
		}
	}()

	l.logger.Info().
		Dur("interval", l.interval).
		Msg("LocationService started")
	return nil
}

// Stop gracefully stops the LocationService, ensuring all goroutines are terminated.
func (l *LocationService) Stop() error {
	if l.ctx == nil {
		l.logger.Warn().Msg("LocationService is not running")
		return errors.New("location service is not running")
	}

	l.cancel()
	l.wg.Wait()
	l.ctx = nil
	l.cancel = nil

	if err := l.locationProvider.Close(); err != nil {
		l.logger.Error().Err(err).Msg("Failed to close location provider")
		return err
	}

	l.logger.Info().Msg("LocationService stopped")
	return nil
}

// SampleOnce reads the current location, stamps it with the device id and the current
// time, and submits it.
func (l *LocationService) SampleOnce(ctx context.Context) (dispatcher.Outcome, error) {
	fix, err := l.locationProvider.GetLocation(ctx)
	if err != nil {
		return dispatcher.Outcome{}, err
	}

	sample := models.LocationSample{
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Altitude:  fix.Altitude,
		Speed:     fix.Speed,
		Timestamp: l.now().UnixMilli(),
		DeviceID:  l.deviceInfo.GetDeviceID(),
	}

	outcome, err := l.submitter.Submit(ctx, sample)
	if err != nil {
		return outcome, err
	}

	l.logger.Debug().
		Str("status", string(outcome.Status)).
		Str("op_id", outcome.OperationID).
		Int64("timestamp", sample.Timestamp).
		Float64("accuracy", fix.Accuracy).
		Msg("Location sample submitted")
	if outcome.Status == dispatcher.Rejected {
		l.logger.Warn().Str("reason", outcome.Reason).Msg("Location sample rejected")
	}
	return outcome, nil
}
