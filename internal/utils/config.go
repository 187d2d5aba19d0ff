package utils

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/benmeehan/location-agent/pkg/file"
)

// Connectivity probe kinds.
const (
	ProbeHealth    = "health"
	ProbeInterface = "interface"
	ProbeMQTT      = "mqtt"
)

// Queue storage backends.
const (
	StorageFile   = "file"
	StorageBadger = "badger"
)

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// Config represents the structure of the agent configuration file.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`

	Identity struct {
		DeviceFile string `yaml:"device_file"` // Path to the device identity file
	} `yaml:"identity"`

	Backend struct {
		BaseURL       string        `yaml:"base_url"`        // e.g. http://localhost:3000/api
		SubmitPath    string        `yaml:"submit_path"`     // /locations or /user/trace-movement
		LocationsPath string        `yaml:"locations_path"`  // Range query and delete path
		Timeout       time.Duration `yaml:"timeout"`         // Per-request timeout
		MinAPIVersion string        `yaml:"min_api_version"` // Reject backends older than this when probing health

		CircuitBreaker struct {
			Enabled          bool          `yaml:"enabled"`
			FailureThreshold uint32        `yaml:"failure_threshold"` // Consecutive transient failures before opening
			OpenTimeout      time.Duration `yaml:"open_timeout"`      // Time spent open before a trial request
		} `yaml:"circuit_breaker"`
	} `yaml:"backend"`

	Connectivity struct {
		Probe     string        `yaml:"probe"`      // health, interface or mqtt
		HealthURL string        `yaml:"health_url"` // Defaults to <base_url>/health
		Interval  time.Duration `yaml:"interval"`   // Time between probes
		Timeout   time.Duration `yaml:"timeout"`    // Per-probe timeout
	} `yaml:"connectivity"`

	Sync struct {
		Storage        string        `yaml:"storage"`          // file or badger
		QueueFile      string        `yaml:"queue_file"`       // Snapshot path for file storage
		DeadLetterFile string        `yaml:"dead_letter_file"` // Dead-letter snapshot path for file storage
		BadgerDir      string        `yaml:"badger_dir"`       // Data directory for badger storage
		DrainInterval  time.Duration `yaml:"drain_interval"`   // Safety-net drain period, 0 disables
		DeadLetter     bool          `yaml:"dead_letter"`      // Move permanently rejected operations aside
	} `yaml:"sync"`

	Cache struct {
		Capacity int `yaml:"capacity"` // Recent samples kept for offline reads
	} `yaml:"cache"`

	MQTT struct {
		Enabled       bool   `yaml:"enabled"`
		Broker        string `yaml:"broker"`         // MQTT broker address
		ClientID      string `yaml:"client_id"`      // MQTT client ID prefix
		CACertificate string `yaml:"ca_certificate"` // Path to the CA certificate, empty disables TLS
		Username      string `yaml:"username"`
		Password      string `yaml:"password"`
	} `yaml:"mqtt"`

	Services struct {
		Location struct {
			Enabled           bool          `yaml:"enabled"`         // Enable/disable location sampling
			Interval          time.Duration `yaml:"interval"`        // Interval between samples
			SensorBased       bool          `yaml:"sensor_based"`    // Use GPS sensor or geolocation api
			MapsAPIKey        string        `yaml:"maps_api_key"`    // Google maps API Key
			GPSDeviceBaudRate int           `yaml:"gps_baud_rate"`   // The Baud rate for GPS sensor
			GPSDevicePort     string        `yaml:"gps_device_port"` // UNIX Port where the GPS sensor is mounted
		} `yaml:"location"`

		Heartbeat struct {
			Enabled  bool          `yaml:"enabled"`
			Topic    string        `yaml:"topic"`
			Interval time.Duration `yaml:"interval"`
			QOS      int           `yaml:"qos"`
		} `yaml:"heartbeat"`

		Retention struct {
			Enabled  bool          `yaml:"enabled"`
			Interval time.Duration `yaml:"interval"` // How often old history is deleted
			MaxAge   time.Duration `yaml:"max_age"`  // Records older than this are deleted
		} `yaml:"retention"`

		Status struct {
			Enabled    bool   `yaml:"enabled"`
			ListenAddr string `yaml:"listen_addr"`
		} `yaml:"status"`
	} `yaml:"services"`
}

// LoadConfig loads the YAML configuration from the specified file, applies defaults
// and validates the result.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", filename, err)
	}
	return &config, nil
}

// ApplyDefaults fills every unset value.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Identity.DeviceFile == "" {
		c.Identity.DeviceFile = "data/device.json"
	}

	if c.Backend.SubmitPath == "" {
		c.Backend.SubmitPath = "/locations"
	}
	if c.Backend.LocationsPath == "" {
		c.Backend.LocationsPath = "/locations"
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 10 * time.Second
	}
	if c.Backend.CircuitBreaker.FailureThreshold == 0 {
		c.Backend.CircuitBreaker.FailureThreshold = 5
	}
	if c.Backend.CircuitBreaker.OpenTimeout == 0 {
		c.Backend.CircuitBreaker.OpenTimeout = 30 * time.Second
	}

	if c.Connectivity.Probe == "" {
		c.Connectivity.Probe = ProbeHealth
	}
	if c.Connectivity.HealthURL == "" && c.Backend.BaseURL != "" {
		c.Connectivity.HealthURL = strings.TrimRight(c.Backend.BaseURL, "/") + "/health"
	}
	if c.Connectivity.Interval == 0 {
		c.Connectivity.Interval = 15 * time.Second
	}
	if c.Connectivity.Timeout == 0 {
		c.Connectivity.Timeout = 5 * time.Second
	}

	if c.Sync.Storage == "" {
		c.Sync.Storage = StorageFile
	}
	if c.Sync.QueueFile == "" {
		c.Sync.QueueFile = "data/offline_queue.json"
	}
	if c.Sync.DeadLetterFile == "" {
		c.Sync.DeadLetterFile = "data/dead_letter.json"
	}
	if c.Sync.BadgerDir == "" {
		c.Sync.BadgerDir = "data/queue"
	}
	if c.Sync.DrainInterval == 0 {
		c.Sync.DrainInterval = time.Minute
	}

	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = 1000
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "location-agent"
	}

	if c.Services.Location.Interval == 0 {
		c.Services.Location.Interval = 30 * time.Second
	}
	if c.Services.Location.GPSDeviceBaudRate == 0 {
		c.Services.Location.GPSDeviceBaudRate = 9600
	}
	if c.Services.Heartbeat.Topic == "" {
		c.Services.Heartbeat.Topic = "devices/heartbeat"
	}
	if c.Services.Heartbeat.Interval == 0 {
		c.Services.Heartbeat.Interval = 30 * time.Second
	}
	if c.Services.Retention.Interval == 0 {
		c.Services.Retention.Interval = 24 * time.Hour
	}
	if c.Services.Retention.MaxAge == 0 {
		c.Services.Retention.MaxAge = 30 * 24 * time.Hour
	}
	if c.Services.Status.ListenAddr == "" {
		c.Services.Status.ListenAddr = "127.0.0.1:8081"
	}
}

// Validate rejects configurations the agent cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	} else if _, err := url.ParseRequestURI(c.Backend.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("backend.base_url: %w", err))
	}
	if c.Backend.Timeout < 0 {
		errs = append(errs, errors.New("backend.timeout must not be negative"))
	}

	switch c.Connectivity.Probe {
	case ProbeHealth, ProbeInterface:
	case ProbeMQTT:
		if !c.MQTT.Enabled {
			errs = append(errs, errors.New("connectivity.probe mqtt requires mqtt.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("connectivity.probe %q is not one of health, interface, mqtt", c.Connectivity.Probe))
	}
	if c.Connectivity.Interval <= 0 || c.Connectivity.Timeout <= 0 {
		errs = append(errs, errors.New("connectivity.interval and connectivity.timeout must be positive"))
	}

	switch c.Sync.Storage {
	case StorageFile, StorageBadger:
	default:
		errs = append(errs, fmt.Errorf("sync.storage %q is not one of file, badger", c.Sync.Storage))
	}
	if c.Sync.DrainInterval < 0 {
		errs = append(errs, errors.New("sync.drain_interval must not be negative"))
	}

	if c.Cache.Capacity < 0 {
		errs = append(errs, errors.New("cache.capacity must not be negative"))
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if c.Services.Heartbeat.Enabled && !c.MQTT.Enabled {
		errs = append(errs, errors.New("services.heartbeat requires mqtt.enabled"))
	}
	if c.Services.Heartbeat.QOS < 0 || c.Services.Heartbeat.QOS > 2 {
		errs = append(errs, errors.New("services.heartbeat.qos must be 0, 1 or 2"))
	}
	if c.Services.Location.Enabled && !c.Services.Location.SensorBased && c.Services.Location.MapsAPIKey == "" {
		errs = append(errs, errors.New("services.location.maps_api_key is required unless sensor_based"))
	}

	return errors.Join(errs...)
}

// ServerConfig configures the reference backend.
type ServerConfig struct {
	Logging     LoggingConfig `yaml:"logging"`
	ListenAddr  string        `yaml:"listen_addr"`
	DatabaseURL string        `yaml:"database_url"` // Empty keeps records in memory
	Version     string        `yaml:"version"`      // Reported by /health
	LatestLimit int           `yaml:"latest_limit"` // Default limit for latest-locations

	RateLimit struct {
		Requests int           `yaml:"requests"` // Per client IP per window, 0 disables
		Window   time.Duration `yaml:"window"`
	} `yaml:"rate_limit"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
}

// LoadServerConfig reads filename when it exists, then applies LOCATIOND_* environment
// overrides and defaults.
func LoadServerConfig(filename string, fileClient file.FileOperations) (*ServerConfig, error) {
	var config ServerConfig
	if filename != "" {
		exists, err := fileClient.IsFileExists(filename)
		if err != nil {
			return nil, err
		}
		if exists {
			if err := fileClient.ReadYamlFile(filename, &config); err != nil {
				return nil, err
			}
		}
	}

	if v := os.Getenv("LOCATIOND_LISTEN_ADDR"); v != "" {
		config.ListenAddr = v
	}
	if v := os.Getenv("LOCATIOND_DATABASE_URL"); v != "" {
		config.DatabaseURL = v
	}
	if v := os.Getenv("LOCATIOND_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	config.ApplyDefaults()
	if config.RateLimit.Requests < 0 || config.LatestLimit < 0 {
		return nil, errors.New("rate_limit.requests and latest_limit must not be negative")
	}
	return &config, nil
}

// ApplyDefaults fills every unset value.
func (c *ServerConfig) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":3000"
	}
	if c.Version == "" {
		c.Version = "1.0.0"
	}
	if c.LatestLimit == 0 {
		c.LatestLimit = 50
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
}
