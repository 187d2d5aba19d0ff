package connectivity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benmeehan/location-agent/internal/metrics"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
)

// State is the process-wide reachability of the backend.
type State int

const (
	Offline State = iota
	Online
)

func (s State) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

// Callback receives the new state after every observed transition.
type Callback func(State)

// Prober checks reachability once. Any error means the backend is treated as unreachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Monitor polls a Prober and notifies subscribers on Online/Offline transitions.
// It starts Offline and treats probe errors as Offline, preferring queuing over data loss.
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger

	mu    sync.RWMutex
	state State

	// checkMu serializes probe, state update and notification so subscribers see
	// transitions in the order they happened.
	checkMu     sync.Mutex
	subscribers cmap.ConcurrentMap[string, Callback]

	// lifecycleMu guards ctx and cancel across Start and Stop.
	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewMonitor creates a Monitor probing every interval, bounding each probe by timeout.
func NewMonitor(prober Prober, interval, timeout time.Duration, logger zerolog.Logger) *Monitor {
	return &Monitor{
		prober:      prober,
		interval:    interval,
		timeout:     timeout,
		logger:      logger,
		state:       Offline,
		subscribers: cmap.New[Callback](),
	}
}

// Start runs an initial probe and then polls in the background.
func (m *Monitor) Start() error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.ctx != nil {
		m.logger.Warn().Msg("Connectivity monitor is already running")
		return errors.New("connectivity monitor is already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.ctx, m.cancel = ctx, cancel
	m.Check(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.Check(ctx)
			case <-ctx.Done():
				m.logger.Info().Msg("Connectivity monitor stopping")
				return
			}
		}
	}()

	m.logger.Info().
		Dur("interval", m.interval).
		Str("state", m.CurrentState().String()).
		Msg("Connectivity monitor started")
	return nil
}

// Stop halts background polling.
func (m *Monitor) Stop() error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.ctx == nil {
		m.logger.Warn().Msg("Connectivity monitor is not running")
		return errors.New("connectivity monitor is not running")
	}

	m.cancel()
	m.wg.Wait()
	m.ctx = nil
	m.cancel = nil

	m.logger.Info().Msg("Connectivity monitor stopped")
	return nil
}

// CurrentState returns the last observed state.
func (m *Monitor) CurrentState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe registers cb for transitions. The returned function removes it and is safe to call twice.
func (m *Monitor) Subscribe(cb Callback) (unsubscribe func()) {
	id := uuid.New().String()
	m.subscribers.Set(id, cb)
	return func() {
		m.subscribers.Remove(id)
	}
}

// Check probes once, records the result and notifies subscribers if the state changed.
func (m *Monitor) Check(ctx context.Context) State {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.prober.Probe(probeCtx)
	cancel()

	next := Online
	if err != nil {
		next = Offline
		m.logger.Debug().Err(err).Msg("Connectivity probe failed")
	}
	m.set(next)
	return next
}

// set records state and notifies subscribers on an actual transition. Callers hold checkMu.
func (m *Monitor) set(next State) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()

	if prev == next {
		return
	}

	if next == Online {
		metrics.ConnectivityOnline.Set(1)
	} else {
		metrics.ConnectivityOnline.Set(0)
	}
	metrics.ConnectivityTransitions.WithLabelValues(next.String()).Inc()
	m.logger.Info().Str("from", prev.String()).Str("to", next.String()).Msg("Connectivity changed")

	for _, cb := range m.subscribers.Items() {
		cb(next)
	}
}
