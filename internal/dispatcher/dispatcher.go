package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benmeehan/location-agent/internal/cache"
	"github.com/benmeehan/location-agent/internal/connectivity"
	"github.com/benmeehan/location-agent/internal/metrics"
	"github.com/benmeehan/location-agent/internal/models"
	"github.com/benmeehan/location-agent/internal/queue"
	"github.com/benmeehan/location-agent/internal/transport"
	"github.com/rs/zerolog"
)

// ConnectivitySource is the part of the connectivity monitor the dispatcher depends on.
type ConnectivitySource interface {
	CurrentState() connectivity.State
	Subscribe(cb connectivity.Callback) func()
}

// Config tunes drain scheduling and the poison-operation policy.
type Config struct {
	// DrainInterval runs a safety-net drain periodically. Zero disables it.
	DrainInterval time.Duration
}

// Dispatcher routes writes to the backend or the durable queue and drains the queue
// in order when connectivity returns.
//
// mu serializes the connectivity read, every queue mutation and the Idle/Draining
// transition. Transport calls run without it so a slow drain never blocks Submit.
type Dispatcher struct {
	conn       ConnectivitySource
	transport  transport.Client
	queue      *queue.Queue
	deadLetter *queue.Queue // nil keeps strict head-of-line blocking
	cache      *cache.LocationCache
	cfg        Config
	logger     zerolog.Logger

	mu    sync.Mutex
	state State

	initialized bool
	unsubscribe func()
	drainCh     chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a dispatcher. deadLetter may be nil.
func New(
	conn ConnectivitySource,
	client transport.Client,
	q *queue.Queue,
	deadLetter *queue.Queue,
	c *cache.LocationCache,
	cfg Config,
	logger zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		conn:       conn,
		transport:  client,
		queue:      q,
		deadLetter: deadLetter,
		cache:      c,
		cfg:        cfg,
		logger:     logger,
		drainCh:    make(chan struct{}, 1),
	}
}

// Start subscribes to connectivity transitions and starts the drain worker.
// Calling it again while running does nothing, so callbacks are never registered twice.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	if d.initialized {
		d.mu.Unlock()
		d.logger.Debug().Msg("Dispatcher already initialized, skipping subscription")
		return nil
	}
	d.initialized = true
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.unsubscribe = d.conn.Subscribe(d.onConnectivityChange)
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run()

	// The transition to online may have happened before we subscribed.
	if d.conn.CurrentState() == connectivity.Online && d.queue.Len() > 0 {
		d.RequestDrain()
	}

	d.logger.Info().
		Dur("drain_interval", d.cfg.DrainInterval).
		Bool("dead_letter", d.deadLetter != nil).
		Int("queue_depth", d.queue.Len()).
		Msg("Dispatcher started")
	return nil
}

// Stop unsubscribes and waits for an in-flight drain step to finish.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.initialized {
		d.mu.Unlock()
		return errors.New("dispatcher is not running")
	}
	d.initialized = false
	unsubscribe, cancel := d.unsubscribe, d.cancel
	d.unsubscribe, d.cancel = nil, nil
	d.mu.Unlock()

	unsubscribe()
	cancel()
	d.wg.Wait()

	d.logger.Info().Int("queue_depth", d.queue.Len()).Msg("Dispatcher stopped")
	return nil
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	var tick <-chan time.Time
	if d.cfg.DrainInterval > 0 {
		ticker := time.NewTicker(d.cfg.DrainInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.drainCh:
		case <-tick:
		}
		if _, err := d.Drain(d.ctx); err != nil {
			d.logger.Error().Err(err).Msg("Drain aborted")
		}
	}
}

func (d *Dispatcher) onConnectivityChange(state connectivity.State) {
	if state == connectivity.Online {
		d.RequestDrain()
	}
}

// RequestDrain schedules a drain on the worker without blocking.
func (d *Dispatcher) RequestDrain() {
	select {
	case d.drainCh <- struct{}{}:
	default:
	}
}

// Submit sends sample now when online, otherwise queues it. Malformed samples are
// rejected and never queued. The error is non-nil only when a write could not be
// made durable.
func (d *Dispatcher) Submit(ctx context.Context, sample models.LocationSample) (Outcome, error) {
	if err := sample.Validate(); err != nil {
		d.logger.Warn().Err(err).Str("device_id", sample.DeviceID).Msg("Rejected malformed location sample")
		return d.countOutcome(models.MethodCreate, Outcome{Status: Rejected, Reason: err.Error()}), nil
	}
	op := models.NewCreateOperation(sample)

	d.mu.Lock()
	if d.conn.CurrentState() == connectivity.Offline {
		defer d.mu.Unlock()
		return d.enqueueLocked(op, "offline")
	}
	d.mu.Unlock()

	record, err := d.transport.Submit(ctx, sample)
	if err == nil {
		d.cache.Append(sample)
		return d.countOutcome(op.Method, Outcome{Status: Sent, OperationID: op.ID, Record: record}), nil
	}
	if transport.IsPermanent(err) {
		return d.reject(op, err)
	}

	d.logger.Debug().Err(err).Str("op_id", op.ID).Msg("Transient send failure, queueing")
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enqueueLocked(op, err.Error())
}

// DeleteOlderThan removes records with timestamp < olderThan on the backend, queueing
// the delete when offline. The local cache is pruned immediately.
func (d *Dispatcher) DeleteOlderThan(ctx context.Context, olderThan int64) (Outcome, error) {
	op := models.NewDeleteOperation(olderThan)
	if err := op.Validate(); err != nil {
		return d.countOutcome(models.MethodDelete, Outcome{Status: Rejected, Reason: err.Error()}), nil
	}

	pruned := d.cache.DeleteOlderThan(olderThan)
	d.logger.Debug().Int64("older_than", olderThan).Int("pruned", pruned).Msg("Pruned local cache")

	d.mu.Lock()
	if d.conn.CurrentState() == connectivity.Offline {
		defer d.mu.Unlock()
		return d.enqueueLocked(op, "offline")
	}
	d.mu.Unlock()

	deleted, err := d.transport.DeleteOlderThan(ctx, olderThan)
	if err == nil {
		return d.countOutcome(op.Method, Outcome{Status: Sent, OperationID: op.ID, Deleted: deleted}), nil
	}
	if transport.IsPermanent(err) {
		return d.reject(op, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enqueueLocked(op, err.Error())
}

// enqueueLocked queues op and mirrors creates into the cache. Callers hold d.mu.
func (d *Dispatcher) enqueueLocked(op models.QueuedOperation, reason string) (Outcome, error) {
	if err := d.queue.Enqueue(op); err != nil {
		d.logger.Error().
			Bool("critical", true).
			Err(err).
			Str("op_id", op.ID).
			Str("method", string(op.Method)).
			Msg("Failed to queue operation, write is not durable")
		metrics.SubmitOutcomes.WithLabelValues(string(op.Method), "error").Inc()
		return Outcome{}, fmt.Errorf("queue %s operation: %w", op.Method, err)
	}
	if op.Method == models.MethodCreate {
		d.cache.Append(*op.Sample)
	}

	d.logger.Debug().
		Str("op_id", op.ID).
		Str("method", string(op.Method)).
		Str("reason", reason).
		Int("queue_depth", d.queue.Len()).
		Msg("Operation queued")
	return d.countOutcome(op.Method, Outcome{Status: Queued, OperationID: op.ID, Reason: reason}), nil
}

// reject handles a permanent backend refusal on the direct path. With a dead-letter
// queue the op is parked there and reported Rejected. Without one it joins the pending
// queue like any failed send and blocks drains until it is delivered or dropped.
func (d *Dispatcher) reject(op models.QueuedOperation, cause error) (Outcome, error) {
	d.logger.Warn().Err(cause).Str("op_id", op.ID).Msg("Backend rejected operation")
	op.Attempts = 1
	op.LastError = cause.Error()

	if d.deadLetter == nil {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.enqueueLocked(op, cause.Error())
	}

	outcome := Outcome{Status: Rejected, OperationID: op.ID, Reason: cause.Error()}
	if err := d.deadLetter.Enqueue(op); err != nil {
		d.logger.Error().Bool("critical", true).Err(err).Str("op_id", op.ID).Msg("Failed to dead-letter rejected operation")
		return d.countOutcome(op.Method, outcome), fmt.Errorf("dead-letter %s operation: %w", op.Method, err)
	}
	outcome.DeadLettered = true
	return d.countOutcome(op.Method, outcome), nil
}

func (d *Dispatcher) countOutcome(method models.Method, o Outcome) Outcome {
	metrics.SubmitOutcomes.WithLabelValues(string(method), string(o.Status)).Inc()
	return o
}

// Query answers a history query from the backend when online and from the local
// cache when offline or when the backend read fails transiently.
func (d *Dispatcher) Query(ctx context.Context, start, end int64) (QueryResult, error) {
	if start > end {
		return QueryResult{}, &models.MalformedPayloadError{Err: fmt.Errorf("startTime %d is after endTime %d", start, end)}
	}
	if d.conn.CurrentState() == connectivity.Offline {
		return QueryResult{Source: SourceCache, Samples: d.cache.Query(start, end)}, nil
	}

	samples, err := d.transport.FetchRange(ctx, start, end)
	if err == nil {
		return QueryResult{Source: SourceBackend, Samples: samples}, nil
	}
	if transport.IsPermanent(err) {
		return QueryResult{}, err
	}
	d.logger.Debug().Err(err).Msg("Backend query failed, answering from cache")
	return QueryResult{Source: SourceCache, Samples: d.cache.Query(start, end)}, nil
}

// Drain transmits queued operations front to back and stops at the first failure.
// Only one drain runs at a time; a concurrent call returns DrainSkipped. Cancellation
// is checked between operations, never during a transmission.
func (d *Dispatcher) Drain(ctx context.Context) (DrainReport, error) {
	d.mu.Lock()
	if d.state == Draining || d.conn.CurrentState() == connectivity.Offline || d.queue.Len() == 0 {
		report := DrainReport{Result: DrainSkipped, Remaining: d.queue.Len()}
		d.mu.Unlock()
		return report, nil
	}
	d.state = Draining
	d.mu.Unlock()

	report := DrainReport{}
	start := time.Now()
	d.logger.Info().Int("queue_depth", d.queue.Len()).Msg("Drain started")

	defer func() {
		d.mu.Lock()
		d.state = Idle
		d.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			report.Result = DrainCancelled
			break
		}

		d.mu.Lock()
		op, ok := d.queue.PeekFront()
		d.mu.Unlock()
		if !ok {
			report.Result = DrainEmptied
			break
		}

		sendErr := d.send(context.WithoutCancel(ctx), op)

		stop, err := d.settle(op, sendErr, &report)
		if err != nil {
			report.Result = DrainStoppedOnFailure
			report.LastError = err.Error()
			d.finishDrain(&report, start)
			return report, err
		}
		if stop {
			report.Result = DrainStoppedOnFailure
			report.LastError = sendErr.Error()
			break
		}
	}

	d.finishDrain(&report, start)
	return report, nil
}

// settle records the outcome of sending op. It reports whether draining must stop.
func (d *Dispatcher) settle(op models.QueuedOperation, sendErr error, report *DrainReport) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// The front may have been dropped by an operator while we were sending.
	front, ok := d.queue.PeekFront()
	if !ok || front.ID != op.ID {
		d.logger.Warn().Str("op_id", op.ID).Msg("Front operation changed during send, not settling")
		return false, nil
	}

	switch {
	case sendErr == nil:
		if err := d.queue.RemoveFront(); err != nil {
			d.logger.Error().Bool("critical", true).Err(err).Str("op_id", op.ID).Msg("Sent operation could not be removed, it will be resent")
			return true, err
		}
		report.Sent++
		metrics.DrainedOperations.WithLabelValues("sent").Inc()
		d.logger.Debug().Str("op_id", op.ID).Int("attempts", op.Attempts).Msg("Drained operation")
		return false, nil

	case transport.IsPermanent(sendErr) && d.deadLetter != nil:
		dead := front
		dead.Attempts++
		dead.LastError = sendErr.Error()
		if err := d.deadLetter.Enqueue(dead); err != nil {
			d.logger.Error().Bool("critical", true).Err(err).Str("op_id", op.ID).Msg("Failed to dead-letter operation, keeping it queued")
			return true, err
		}
		if err := d.queue.RemoveFront(); err != nil {
			d.logger.Error().Bool("critical", true).Err(err).Str("op_id", op.ID).Msg("Dead-lettered operation could not be removed from queue")
			return true, err
		}
		report.DeadLettered++
		metrics.DrainedOperations.WithLabelValues("dead_lettered").Inc()
		d.logger.Warn().Err(sendErr).Str("op_id", op.ID).Msg("Operation permanently rejected, moved to dead-letter queue")
		return false, nil

	default:
		if err := d.queue.MarkFrontFailed(sendErr.Error()); err != nil {
			d.logger.Error().Bool("critical", true).Err(err).Str("op_id", op.ID).Msg("Failed to record attempt on front operation")
			return true, err
		}
		level := d.logger.Info()
		if transport.IsPermanent(sendErr) {
			level = d.logger.Error()
		}
		level.Err(sendErr).
			Str("op_id", op.ID).
			Int("attempts", front.Attempts+1).
			Msg("Drain stopped on failed operation")
		return true, nil
	}
}

func (d *Dispatcher) finishDrain(report *DrainReport, start time.Time) {
	report.Remaining = d.queue.Len()
	metrics.DrainRuns.WithLabelValues(string(report.Result)).Inc()
	d.logger.Info().
		Str("result", string(report.Result)).
		Int("sent", report.Sent).
		Int("dead_lettered", report.DeadLettered).
		Int("remaining", report.Remaining).
		Dur("took", time.Since(start)).
		Msg("Drain finished")
}

func (d *Dispatcher) send(ctx context.Context, op models.QueuedOperation) error {
	if err := op.Validate(); err != nil {
		return &transport.Error{Op: "drain", Kind: transport.Rejected, Err: err}
	}
	switch op.Method {
	case models.MethodCreate:
		_, err := d.transport.Submit(ctx, *op.Sample)
		return err
	default:
		_, err := d.transport.DeleteOlderThan(ctx, op.Filter.OlderThan)
		return err
	}
}

// DropFront removes the front operation without sending it. It is the manual way to
// clear a poison operation when dead-lettering is disabled.
func (d *Dispatcher) DropFront() (models.QueuedOperation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	op, ok := d.queue.PeekFront()
	if !ok {
		return models.QueuedOperation{}, queue.ErrEmpty
	}
	if err := d.queue.RemoveFront(); err != nil {
		return models.QueuedOperation{}, err
	}
	d.logger.Warn().
		Str("op_id", op.ID).
		Str("method", string(op.Method)).
		Int("attempts", op.Attempts).
		Str("last_error", op.LastError).
		Msg("Front operation dropped by operator")
	return op, nil
}

// Pending returns the queued operations in drain order.
func (d *Dispatcher) Pending() []models.QueuedOperation {
	return d.queue.Snapshot()
}

// DeadLetters returns the dead-lettered operations, or nil when dead-lettering is disabled.
func (d *Dispatcher) DeadLetters() []models.QueuedOperation {
	if d.deadLetter == nil {
		return nil
	}
	return d.deadLetter.Snapshot()
}

// Report returns the current dispatcher status.
func (d *Dispatcher) Report() Report {
	d.mu.Lock()
	state := d.state
	d.mu.Unlock()

	r := Report{
		State:             state.String(),
		Connectivity:      d.conn.CurrentState().String(),
		QueueDepth:        d.queue.Len(),
		DeadLetterEnabled: d.deadLetter != nil,
		CacheSize:         d.cache.Len(),
		CacheCapacity:     d.cache.Capacity(),
	}
	if d.deadLetter != nil {
		r.DeadLetterDepth = d.deadLetter.Len()
	}
	return r
}

// State returns the current drain state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
