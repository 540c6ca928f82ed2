package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/benmeehan/crowdsense/internal/engine"
	"github.com/benmeehan/crowdsense/internal/service_registry"
	"github.com/benmeehan/crowdsense/internal/utils"
	"github.com/benmeehan/crowdsense/pkg/file"
	"github.com/benmeehan/crowdsense/pkg/mqtt"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	envPath := flag.String("env", ".env", "optional .env file with secrets")
	flag.Parse()

	// Initialize file operations handler
	fileClient := file.NewFileService()

	if err := utils.LoadEnvFile(*envPath, fileClient); err != nil {
		log.Fatal().Err(err).Msg("Failed to load .env file")
	}

	// Load configuration from file
	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := utils.NewLogger(config.Log.Level, config.Log.Pretty)

	// The registry treats a nil client as "no broker".
	var mqttClient mqtt.MQTTClient
	var mqttService *mqtt.MqttService
	if config.MQTT.Enabled {
		clientID := config.MQTT.ClientID + "-" + uuid.NewString()
		logger.Info().Str("client_id", clientID).Msg("Using MQTT Client ID")

		mqttService = mqtt.NewMqttService(fileClient)
		err = mqttService.Initialize(mqtt.Options{
			Broker:        config.MQTT.Broker,
			ClientID:      clientID,
			CACertificate: config.MQTT.CACertificate,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
		}
		mqttClient = mqttService
	}

	eng, err := engine.New(config, mqttClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build engine")
	}

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(mqttClient, fileClient, logger)
	if err := serviceRegistry.RegisterServices(config, eng); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register services")
	}

	if err := serviceRegistry.StartServices(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start services")
	}
	logger.Info().Strs("services", serviceRegistry.Services()).Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop services cleanly")
	}
	if err := eng.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close engine")
	}
	if mqttService != nil {
		mqttService.Disconnect(250)
	}
}
