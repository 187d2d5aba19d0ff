package service_registry

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/benmeehan/location-agent/internal/cache"
	"github.com/benmeehan/location-agent/internal/connectivity"
	"github.com/benmeehan/location-agent/internal/dispatcher"
	"github.com/benmeehan/location-agent/internal/queue"
	"github.com/benmeehan/location-agent/internal/services"
	"github.com/benmeehan/location-agent/internal/transport"
	"github.com/benmeehan/location-agent/internal/utils"
	"github.com/benmeehan/location-agent/pkg/file"
	"github.com/benmeehan/location-agent/pkg/identity"
	"github.com/benmeehan/location-agent/pkg/location"
	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

const (
	queueSlot      = "pending"
	deadLetterSlot = "dead_letter"
)

// Service is a long-running component whose lifecycle the registry owns.
type Service interface {
	Start() error
	Stop() error
}

// MQTTConnection is the shared broker connection used for heartbeats and the MQTT probe.
type MQTTConnection interface {
	services.Publisher
	connectivity.ConnectionChecker
}

// ServiceRegistry manages the lifecycle of various services in the system.
type ServiceRegistry struct {
	services    map[string]Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	closers     []func() error              // Released after every service has stopped
	mqttClient  MQTTConnection              // nil when MQTT is disabled
	fileClient  file.FileOperations
	Dispatcher  *dispatcher.Dispatcher
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes a new service registry with dependencies.
// mqttClient may be nil.
func NewServiceRegistry(mqttClient MQTTConnection, fileClient file.FileOperations, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services:   make(map[string]Service),
		mqttClient: mqttClient,
		fileClient: fileClient,
		Logger:     logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// Services returns the registered service names in start order.
func (sr *ServiceRegistry) Services() []string {
	return append([]string(nil), sr.serviceKeys...)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return fmt.Errorf("start %s: %w", name, err)
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order, then releases shared resources.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if err := sr.Close(); err != nil {
		stopErrors = append(stopErrors, err)
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// Close releases storage held by the registry. It is safe to call more than once.
func (sr *ServiceRegistry) Close() error {
	var errs []error
	for i := len(sr.closers) - 1; i >= 0; i-- {
		if err := sr.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	sr.closers = nil
	return errors.Join(errs...)
}

// RegisterServices builds the sync core and registers enabled services based on configuration.
// The connectivity monitor and the dispatcher are always registered first so that
// producers never submit before the queue is restored.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config, deviceInfo identity.DeviceInfoInterface) error {
	monitor, err := sr.newMonitor(config)
	if err != nil {
		return err
	}

	pending, deadLetter, err := sr.openQueues(config)
	if err != nil {
		return err
	}

	client := transport.NewHTTPClient(transport.Config{
		BaseURL:       config.Backend.BaseURL,
		SubmitPath:    config.Backend.SubmitPath,
		LocationsPath: config.Backend.LocationsPath,
		DeviceID:      deviceInfo.GetDeviceID(),
		Timeout:       config.Backend.Timeout,
		Breaker: transport.BreakerConfig{
			Enabled:          config.Backend.CircuitBreaker.Enabled,
			FailureThreshold: config.Backend.CircuitBreaker.FailureThreshold,
			OpenTimeout:      config.Backend.CircuitBreaker.OpenTimeout,
		},
	}, nil, sr.Logger.With().Str("component", "transport").Logger())

	sr.Dispatcher = dispatcher.New(
		monitor,
		client,
		pending,
		deadLetter,
		cache.New(config.Cache.Capacity),
		dispatcher.Config{DrainInterval: config.Sync.DrainInterval},
		sr.Logger.With().Str("component", "dispatcher").Logger(),
	)

	sr.RegisterService("connectivity", monitor)
	sr.RegisterService("dispatcher", sr.Dispatcher)

	// Ordered service definitions with inline constructors
	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (Service, error)
	}{
		{
			name:    "status",
			enabled: config.Services.Status.Enabled,
			constructor: func() (Service, error) {
				return services.NewStatusService(
					config.Services.Status.ListenAddr,
					sr.Dispatcher,
					sr.Logger.With().Str("service", "status").Logger(),
				), nil
			},
		},
		{
			name:    "location",
			enabled: config.Services.Location.Enabled,
			constructor: func() (Service, error) {
				provider, err := sr.newLocationProvider(config)
				if err != nil {
					return nil, err
				}
				return services.NewLocationService(
					config.Services.Location.Interval,
					deviceInfo,
					sr.Dispatcher,
					sr.Logger.With().Str("service", "location").Logger(),
					provider,
				), nil
			},
		},
		{
			name:    "retention",
			enabled: config.Services.Retention.Enabled,
			constructor: func() (Service, error) {
				return services.NewRetentionService(
					config.Services.Retention.Interval,
					config.Services.Retention.MaxAge,
					sr.Dispatcher,
					sr.Logger.With().Str("service", "retention").Logger(),
				), nil
			},
		},
		{
			name:    "heartbeat",
			enabled: config.Services.Heartbeat.Enabled,
			constructor: func() (Service, error) {
				if sr.mqttClient == nil {
					return nil, errors.New("heartbeat service requires mqtt to be enabled")
				}
				return services.NewHeartbeatService(
					config.Services.Heartbeat.Topic,
					config.Services.Heartbeat.Interval,
					config.Services.Heartbeat.QOS,
					deviceInfo,
					sr.mqttClient,
					sr.Dispatcher,
					sr.Logger.With().Str("service", "heartbeat").Logger(),
				), nil
			},
		},
	}

	// Register services in the predefined order
	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if svc.enabled {
			serviceInstance, err := svc.constructor()
			if err != nil {
				sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
				return err
			}
			sr.RegisterService(svc.name, serviceInstance)
			registeredServices = append(registeredServices, svc.name)
		}
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}

func (sr *ServiceRegistry) newMonitor(config *utils.Config) (*connectivity.Monitor, error) {
	var prober connectivity.Prober
	switch config.Connectivity.Probe {
	case utils.ProbeInterface:
		prober = connectivity.NewInterfaceProber()
	case utils.ProbeMQTT:
		if sr.mqttClient == nil {
			return nil, errors.New("mqtt connectivity probe requires mqtt to be enabled")
		}
		prober = connectivity.NewMQTTProber(sr.mqttClient)
	default:
		hp, err := connectivity.NewHealthProber(config.Connectivity.HealthURL, &http.Client{}, config.Backend.MinAPIVersion)
		if err != nil {
			return nil, err
		}
		prober = hp
	}

	sr.Logger.Info().Str("probe", config.Connectivity.Probe).Msg("Connectivity probe selected")
	return connectivity.NewMonitor(
		prober,
		config.Connectivity.Interval,
		config.Connectivity.Timeout,
		sr.Logger.With().Str("component", "connectivity").Logger(),
	), nil
}

// openQueues opens the durable slots and restores their snapshots.
// deadLetter is nil unless dead-lettering is enabled.
func (sr *ServiceRegistry) openQueues(config *utils.Config) (pending, deadLetter *queue.Queue, err error) {
	var pendingStore, deadLetterStore queue.Store

	switch config.Sync.Storage {
	case utils.StorageBadger:
		var db *badger.DB
		db, err = queue.OpenBadger(config.Sync.BadgerDir, sr.Logger)
		if err != nil {
			return nil, nil, err
		}
		sr.closers = append(sr.closers, db.Close)
		pendingStore = queue.NewBadgerStore(db, queueSlot)
		deadLetterStore = queue.NewBadgerStore(db, deadLetterSlot)
	default:
		pendingStore = queue.NewFileStore(config.Sync.QueueFile, sr.fileClient)
		deadLetterStore = queue.NewFileStore(config.Sync.DeadLetterFile, sr.fileClient)
	}

	pending = queue.New(queueSlot, pendingStore, sr.Logger.With().Str("queue", queueSlot).Logger())
	if err = sr.restore(pending); err != nil {
		return nil, nil, err
	}

	if config.Sync.DeadLetter {
		deadLetter = queue.New(deadLetterSlot, deadLetterStore, sr.Logger.With().Str("queue", deadLetterSlot).Logger())
		if err = sr.restore(deadLetter); err != nil {
			return nil, nil, err
		}
	}
	return pending, deadLetter, nil
}

// restore loads a queue snapshot. A corrupt snapshot has already been quarantined, so the
// agent continues with an empty queue.
func (sr *ServiceRegistry) restore(q *queue.Queue) error {
	err := q.Load()
	if errors.Is(err, queue.ErrCorruptSnapshot) {
		sr.Logger.Error().Bool("critical", true).Err(err).Msg("Discarded corrupt queue snapshot")
		return nil
	}
	return err
}

func (sr *ServiceRegistry) newLocationProvider(config *utils.Config) (location.Provider, error) {
	if config.Services.Location.SensorBased {
		return location.NewDeviceSensorProvider(
			config.Services.Location.GPSDevicePort,
			config.Services.Location.GPSDeviceBaudRate,
		), nil
	}

	if strings.TrimSpace(config.Services.Location.MapsAPIKey) == "" {
		return nil, errors.New("maps_api_key is required when sensor_based is false")
	}
	provider, err := location.NewGoogleGeolocationProvider(config.Services.Location.MapsAPIKey)
	if err != nil {
		sr.Logger.Error().Err(err).Msg("failed to create Google Geolocation provider")
		return nil, err
	}
	return provider, nil
}
