package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

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

	fileClient := file.NewFileService()

	if err := utils.LoadEnvFile(*envPath, fileClient); err != nil {
		log.Fatal().Err(err).Msg("Failed to load .env file")
	}

	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if !config.MQTT.Enabled {
		log.Fatal().Msg("The pinger requires mqtt.enabled")
	}

	logger := utils.NewLogger(config.Log.Level, config.Log.Pretty)

	mqttService := mqtt.NewMqttService(fileClient)
	err = mqttService.Initialize(mqtt.Options{
		Broker:        config.MQTT.Broker,
		ClientID:      config.MQTT.ClientID + "-pinger-" + uuid.NewString(),
		CACertificate: config.MQTT.CACertificate,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
	}

	serviceRegistry := service_registry.NewServiceRegistry(mqttService, fileClient, logger)
	if err := serviceRegistry.RegisterPingerServices(config); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register services")
	}
	if err := serviceRegistry.StartServices(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start services")
	}
	logger.Info().Msg("Pinger started")

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop services cleanly")
	}
	mqttService.Disconnect(250)
}
