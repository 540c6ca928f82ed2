package service_registry

import (
	"errors"
	"fmt"
	"os"

	"github.com/benmeehan/crowdsense/internal/engine"
	"github.com/benmeehan/crowdsense/internal/metrics_collectors"
	"github.com/benmeehan/crowdsense/internal/services"
	"github.com/benmeehan/crowdsense/internal/utils"
	"github.com/benmeehan/crowdsense/pkg/file"
	"github.com/benmeehan/crowdsense/pkg/location"
	"github.com/benmeehan/crowdsense/pkg/mqtt"
	"github.com/rs/zerolog"
)

// Service is the interface for all plug-in services
type Service interface {
	Start() error
	Stop() error
}

// ServiceRegistry manages the lifecycle of various services in the system.
type ServiceRegistry struct {
	services    map[string]Service // Stores registered services
	serviceKeys []string           // Maintains order of service registration
	mqttClient  mqtt.MQTTClient
	fileClient  file.FileOperations
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes a new service registry with dependencies.
func NewServiceRegistry(mqttClient mqtt.MQTTClient, fileClient file.FileOperations, logger zerolog.Logger) *ServiceRegistry {
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
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

type serviceDefinition struct {
	name        string
	enabled     bool
	constructor func() (Service, error)
}

func (sr *ServiceRegistry) registerInOrder(definitions []serviceDefinition) error {
	registeredServices := []string{}
	for _, svc := range definitions {
		if !svc.enabled {
			continue
		}
		serviceInstance, err := svc.constructor()
		if err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
			return err
		}
		sr.RegisterService(svc.name, serviceInstance)
		registeredServices = append(registeredServices, svc.name)
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}

func (sr *ServiceRegistry) serviceLogger(name string) zerolog.Logger {
	return sr.Logger.With().Str("service", name).Logger()
}

// RegisterServices registers the engine services based on configuration. The
// catalog is loaded first and the windows aligned before any traffic is
// accepted.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config, eng *engine.Engine) error {
	return sr.registerInOrder([]serviceDefinition{
		{
			name:    "catalog",
			enabled: true,
			constructor: func() (Service, error) {
				source, watchPath, err := eng.CatalogSource(config, sr.fileClient)
				if err != nil {
					return nil, err
				}
				return services.NewCatalogService(
					source,
					eng.Store,
					config.Catalog.RefreshInterval,
					watchPath,
					sr.fileClient,
					sr.serviceLogger("catalog"),
				), nil
			},
		},
		{
			name:    "sweeper",
			enabled: true,
			constructor: func() (Service, error) {
				return services.NewSweeperService(
					config.Services.Sweeper.Interval,
					eng.Limiter,
					eng.Aggregator,
					sr.serviceLogger("sweeper"),
				), nil
			},
		},
		{
			name:    "ingest",
			enabled: config.Services.Ingest.Enabled,
			constructor: func() (Service, error) {
				if sr.mqttClient == nil {
					return nil, errors.New("ingest service requires an mqtt client")
				}
				return services.NewIngestService(
					config.Services.Ingest.Topic,
					config.Services.Ingest.QOS,
					config.Services.Ingest.Workers,
					sr.mqttClient,
					eng.Pipeline,
					sr.serviceLogger("ingest"),
				), nil
			},
		},
		{
			name:    "http",
			enabled: config.HTTP.Enabled,
			constructor: func() (Service, error) {
				return services.NewHTTPService(config.HTTP.Addr, eng.API.Handler(), sr.serviceLogger("http")), nil
			},
		},
		{
			name:    "stats",
			enabled: config.Services.Stats.Enabled,
			constructor: func() (Service, error) {
				if sr.mqttClient == nil {
					return nil, errors.New("stats service requires an mqtt client")
				}
				logger := sr.serviceLogger("stats")
				registry := metrics_collectors.NewMetricsRegistry(logger)
				registry.Register(&metrics_collectors.EngineMetricCollector{
					Limiter:    eng.Limiter,
					Aggregator: eng.Aggregator,
					Catalog:    eng.Store,
				})
				registry.Register(&metrics_collectors.ProcessMetricCollector{Logger: logger})
				registry.Register(&metrics_collectors.HostMetricCollector{})

				instance, _ := os.Hostname()
				return services.NewStatsService(
					config.Services.Stats.Topic,
					instance,
					config.Services.Stats.Interval,
					config.Services.Stats.Interval/2,
					config.Services.Stats.QOS,
					sr.mqttClient,
					registry,
					logger,
				), nil
			},
		},
	})
}

// RegisterPingerServices registers the device side ping publisher.
func (sr *ServiceRegistry) RegisterPingerServices(config *utils.Config) error {
	return sr.registerInOrder([]serviceDefinition{
		{
			name:    "ping",
			enabled: true,
			constructor: func() (Service, error) {
				if sr.mqttClient == nil {
					return nil, errors.New("ping service requires an mqtt client")
				}
				var provider location.Provider
				if config.Pinger.SensorBased {
					provider = location.NewDeviceSensorProvider(config.Pinger.GPSDevicePort, config.Pinger.GPSDeviceBaudRate)
				} else {
					google, err := location.NewGoogleGeolocationProvider(config.Pinger.MapsAPIKey)
					if err != nil {
						return nil, fmt.Errorf("failed to create Google Geolocation provider: %w", err)
					}
					provider = google
				}
				return services.NewPingService(
					config.Pinger.Topic,
					config.Pinger.Interval,
					config.Pinger.TokenRotation,
					config.Pinger.QOS,
					sr.mqttClient,
					sr.serviceLogger("ping"),
					provider,
				), nil
			},
		},
	})
}
