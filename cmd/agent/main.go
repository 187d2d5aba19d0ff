package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/benmeehan/location-agent/internal/service_registry"
	"github.com/benmeehan/location-agent/internal/utils"
	"github.com/benmeehan/location-agent/pkg/file"
	"github.com/benmeehan/location-agent/pkg/identity"
	"github.com/benmeehan/location-agent/pkg/mqtt"
	"github.com/google/uuid"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the agent configuration file")
	flag.Parse()

	// Initialize file operations handler
	fileClient := file.NewFileService()

	// Load configuration from file
	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		bootLog := utils.NewLogger("info", "json")
		bootLog.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load configuration")
	}

	// Set up structured logging
	log := utils.NewLogger(config.Logging.Level, config.Logging.Format).
		With().Str("service", "location-agent").Logger()

	// Initialize DeviceInfo
	deviceInfo := identity.NewDeviceInfo(config.Identity.DeviceFile, fileClient)
	if err := deviceInfo.LoadDeviceInfo(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load device information")
	}
	deviceID, err := deviceInfo.EnsureDeviceID()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to persist device id")
	}
	log = log.With().Str("device_id", deviceID).Logger()

	// Initialize the shared MQTT connection
	var mqttConn service_registry.MQTTConnection
	var mqttClient *mqtt.MqttService
	if config.MQTT.Enabled {
		// Generate a unique MQTT Client ID by appending a UUID
		clientID := config.MQTT.ClientID + "-" + uuid.New().String()
		log.Info().Str("client_id", clientID).Msg("Using MQTT Client ID")

		mqttClient = mqtt.NewMqttService(fileClient, log.With().Str("component", "mqtt").Logger())
		err = mqttClient.Initialize(mqtt.Options{
			Broker:     config.MQTT.Broker,
			ClientID:   clientID,
			CACertPath: config.MQTT.CACertificate,
			Username:   config.MQTT.Username,
			Password:   config.MQTT.Password,
		})
		if err != nil {
			log.Error().Err(err).Msg("Initial MQTT connection failed, retrying in background")
		}
		mqttConn = mqttClient
	}

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(mqttConn, fileClient, log)

	// Register all services based on the configuration
	if err := serviceRegistry.RegisterServices(config, deviceInfo); err != nil {
		serviceRegistry.Close()
		log.Fatal().Err(err).Msg("Failed to register services")
	}

	// Start all registered services in the registry
	if err := serviceRegistry.StartServices(); err != nil {
		serviceRegistry.Close()
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Strs("services", serviceRegistry.Services()).Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Some services did not stop cleanly")
	}
	if mqttClient != nil {
		mqttClient.Disconnect(250)
	}
}
