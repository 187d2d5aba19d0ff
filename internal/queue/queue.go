package queue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/benmeehan/location-agent/internal/metrics"
	"github.com/benmeehan/location-agent/internal/models"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

var (
	// ErrEmpty is returned when a front operation is requested from an empty queue.
	ErrEmpty = errors.New("queue is empty")
	// ErrCorruptSnapshot reports a persisted snapshot that could not be parsed or holds
	// an operation that can never be sent.
	ErrCorruptSnapshot = errors.New("corrupt queue snapshot")
)

// PersistenceError reports that a queue mutation could not be made durable.
// The in-memory queue is rolled back, so the mutation did not happen.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("queue %s: persist snapshot: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistenceError reports whether err is a PersistenceError.
func IsPersistenceError(err error) bool {
	var pErr *PersistenceError
	return errors.As(err, &pErr)
}

// Queue is an ordered, durable FIFO of pending operations.
// Every mutating call writes the full snapshot before returning, so memory and
// storage agree whenever a call has returned.
type Queue struct {
	name   string
	store  Store
	logger zerolog.Logger

	mu  sync.Mutex
	ops []models.QueuedOperation
}

// New creates an empty queue backed by store. Call Load to restore persisted content.
func New(name string, store Store, logger zerolog.Logger) *Queue {
	return &Queue{
		name:   name,
		store:  store,
		logger: logger.With().Str("queue", name).Logger(),
	}
}

// Load replaces the in-memory queue with the persisted snapshot.
// A corrupt snapshot is quarantined and the queue starts empty; the returned error wraps
// ErrCorruptSnapshot so the caller can report it without aborting.
func (q *Queue) Load() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := q.store.Load()
	if err != nil {
		q.ops = nil
		return fmt.Errorf("load queue %s: %w", q.name, err)
	}
	if len(data) == 0 {
		q.ops = nil
		return nil
	}

	var ops []models.QueuedOperation
	if err := json.Unmarshal(data, &ops); err != nil {
		return q.discardCorrupt(err, len(data))
	}
	// A snapshot that parses but holds an unsendable operation is as corrupt as one that does not.
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return q.discardCorrupt(fmt.Errorf("operation %d (%s): %w", i, op.ID, err), len(data))
		}
	}

	q.ops = ops
	metrics.QueueDepth.WithLabelValues(q.name).Set(float64(len(ops)))
	q.logger.Info().Int("depth", len(ops)).Msg("Queue restored from durable storage")
	return nil
}

// discardCorrupt quarantines the persisted snapshot and empties the queue. Callers hold q.mu.
func (q *Queue) discardCorrupt(cause error, size int) error {
	q.ops = nil
	metrics.QueueDepth.WithLabelValues(q.name).Set(0)
	q.logger.Error().
		Bool("critical", true).
		Err(cause).
		Int("bytes", size).
		Msg("Queue snapshot is corrupt, starting empty")
	if err := q.store.Quarantine(); err != nil {
		q.logger.Error().Err(err).Msg("Failed to quarantine corrupt queue snapshot")
	}
	return fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, q.name, cause)
}

// Enqueue appends op to the tail. Operations without a valid payload are refused with a
// MalformedPayloadError so every persisted snapshot stays loadable.
func (q *Queue) Enqueue(op models.QueuedOperation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	next := make([]models.QueuedOperation, len(q.ops), len(q.ops)+1)
	copy(next, q.ops)
	next = append(next, op)
	if err := q.persist("enqueue", next); err != nil {
		return err
	}
	q.ops = next
	return nil
}

// PeekFront returns the oldest operation without removing it.
func (q *Queue) PeekFront() (models.QueuedOperation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return models.QueuedOperation{}, false
	}
	return q.ops[0], true
}

// RemoveFront drops the front operation once it has been transmitted.
func (q *Queue) RemoveFront() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return ErrEmpty
	}
	next := make([]models.QueuedOperation, len(q.ops)-1)
	copy(next, q.ops[1:])
	if err := q.persist("remove_front", next); err != nil {
		return err
	}
	q.ops = next
	return nil
}

// MarkFrontFailed counts a failed transmission of the front operation and keeps it in place.
func (q *Queue) MarkFrontFailed(reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return ErrEmpty
	}
	next := make([]models.QueuedOperation, len(q.ops))
	copy(next, q.ops)
	next[0].Attempts++
	next[0].LastError = reason
	if err := q.persist("mark_front_failed", next); err != nil {
		return err
	}
	q.ops = next
	return nil
}

// Len returns the number of queued operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Snapshot returns a copy of the queued operations in order.
func (q *Queue) Snapshot() []models.QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.QueuedOperation, len(q.ops))
	copy(out, q.ops)
	return out
}

// persist writes ops as the new snapshot. Callers hold q.mu.
func (q *Queue) persist(op string, ops []models.QueuedOperation) error {
	data, err := json.Marshal(ops)
	if err != nil {
		metrics.QueuePersistenceErrors.WithLabelValues(op).Inc()
		return &PersistenceError{Op: op, Err: err}
	}
	if err := q.store.Save(data); err != nil {
		metrics.QueuePersistenceErrors.WithLabelValues(op).Inc()
		q.logger.Error().Err(err).Str("op", op).Msg("Failed to persist queue snapshot")
		return &PersistenceError{Op: op, Err: err}
	}
	metrics.QueueDepth.WithLabelValues(q.name).Set(float64(len(ops)))
	return nil
}
