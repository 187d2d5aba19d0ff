package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/benmeehan/location-agent/pkg/file"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTClient defines the subset of the paho client the agent uses.
type MQTTClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnectionOpen() bool
	Disconnect(quiesce uint)
}

// Options configures the broker connection.
type Options struct {
	Broker         string
	ClientID       string
	CACertPath     string // empty disables TLS
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// MqttService owns the broker connection.
type MqttService struct {
	client     MQTTClient
	fileClient file.FileOperations
	logger     zerolog.Logger
}

// NewMqttService creates a new MqttService instance.
func NewMqttService(fileClient file.FileOperations, logger zerolog.Logger) *MqttService {
	return &MqttService{
		fileClient: fileClient,
		logger:     logger,
	}
}

// NewMqttServiceWithClient wraps an existing client, used by tests.
func NewMqttServiceWithClient(client MQTTClient, logger zerolog.Logger) *MqttService {
	return &MqttService{client: client, logger: logger}
}

// Initialize sets up the client and connects. The client reconnects on its own after
// a lost connection, so a failed first connect is returned but not fatal to callers
// that only probe IsConnectionOpen.
func (s *MqttService) Initialize(opts Options) error {
	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectRetry(true)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}
	if opts.CACertPath != "" {
		tlsConfig, err := s.tlsConfig(opts.CACertPath)
		if err != nil {
			return err
		}
		clientOpts.SetTLSConfig(tlsConfig)
	}
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn().Err(err).Msg("MQTT connection lost")
	})
	clientOpts.SetOnConnectHandler(func(_ mqtt.Client) {
		s.logger.Info().Str("broker", opts.Broker).Msg("MQTT connected")
	})

	s.client = mqtt.NewClient(clientOpts)

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	token := s.client.Connect()
	if !token.WaitTimeout(timeout) {
		return errors.New("timed out connecting to MQTT broker")
	}
	return token.Error()
}

func (s *MqttService) tlsConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := s.fileClient.ReadFileRaw(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to append CA certificate")
	}
	return &tls.Config{RootCAs: caCertPool, MinVersion: tls.VersionTLS12}, nil
}

// Publish sends payload and waits up to timeout for the broker to acknowledge it.
func (s *MqttService) Publish(topic string, qos byte, retained bool, payload interface{}, timeout time.Duration) error {
	if s.client == nil {
		return errors.New("mqtt client is not initialized")
	}
	token := s.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	return token.Error()
}

// IsConnectionOpen reports whether the broker link is currently up.
func (s *MqttService) IsConnectionOpen() bool {
	return s.client != nil && s.client.IsConnectionOpen()
}

// Disconnect gracefully disconnects the MQTT client.
func (s *MqttService) Disconnect(quiesce uint) {
	if s.client != nil {
		s.client.Disconnect(quiesce)
	}
}
