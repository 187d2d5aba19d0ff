package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benmeehan/location-agent/internal/dispatcher"
	"github.com/rs/zerolog"
)

// Deleter removes history older than a cutoff.
type Deleter interface {
	DeleteOlderThan(ctx context.Context, olderThan int64) (dispatcher.Outcome, error)
}

// RetentionService periodically deletes location history older than maxAge.
// Deletes issued while offline are queued like any other write.
type RetentionService struct {
	interval time.Duration
	maxAge   time.Duration
	deleter  Deleter
	logger   zerolog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRetentionService creates a RetentionService.
func NewRetentionService(interval, maxAge time.Duration, deleter Deleter, logger zerolog.Logger) *RetentionService {
	return &RetentionService{
		interval: interval,
		maxAge:   maxAge,
		deleter:  deleter,
		logger:   logger,
		now:      time.Now,
	}
}

// Start runs the retention loop.
func (r *RetentionService) Start() error {
	if r.ctx != nil {
		r.logger.Warn().Msg("RetentionService is already running")
		return errors.New("retention service is already running")
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := r.RunOnce(r.ctx); err != nil {
					r.logger.Error().Err(err).Msg("Retention run failed")
				}
			case <-r.ctx.Done():
				return
			}
		}
	}()

	r.logger.Info().
		Dur("interval", r.interval).
		Dur("max_age", r.maxAge).
		Msg("RetentionService started")
	return nil
}

// Stop halts the retention loop.
func (r *RetentionService) Stop() error {
	if r.ctx == nil {
		r.logger.Warn().Msg("RetentionService is not running")
		return errors.New("retention service is not running")
	}

	r.cancel()
	r.wg.Wait()
	r.ctx = nil
	r.cancel = nil

	r.logger.Info().Msg("RetentionService stopped")
	return nil
}

// RunOnce deletes everything older than now minus maxAge.
func (r *RetentionService) RunOnce(ctx context.Context) (dispatcher.Outcome, error) {
	cutoff := r.now().Add(-r.maxAge).UnixMilli()

	outcome, err := r.deleter.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return outcome, err
	}

	r.logger.Info().
		Int64("older_than", cutoff).
		Str("status", string(outcome.Status)).
		Int64("deleted", outcome.Deleted).
		Msg("Retention delete issued")
	return outcome, nil
}
