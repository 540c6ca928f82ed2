package engine

import (
	"errors"
	"fmt"
	"io"

	"github.com/benmeehan/crowdsense/internal/aggregator"
	"github.com/benmeehan/crowdsense/internal/anon"
	"github.com/benmeehan/crowdsense/internal/api"
	"github.com/benmeehan/crowdsense/internal/catalog"
	"github.com/benmeehan/crowdsense/internal/heatmap"
	"github.com/benmeehan/crowdsense/internal/notify"
	"github.com/benmeehan/crowdsense/internal/pipeline"
	"github.com/benmeehan/crowdsense/internal/ratelimit"
	"github.com/benmeehan/crowdsense/internal/utils"
	"github.com/benmeehan/crowdsense/pkg/file"
	"github.com/benmeehan/crowdsense/pkg/mqtt"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Engine holds the in-memory components shared by the services.
type Engine struct {
	Limiter    *ratelimit.Limiter
	Aggregator *aggregator.Aggregator
	Store      *catalog.Store
	Pipeline   *pipeline.Pipeline
	Heatmap    *heatmap.Reader
	API        *api.API

	closers []io.Closer
}

// New builds the engine from config. mqttClient may be nil when MQTT is disabled.
func New(config *utils.Config, mqttClient mqtt.MQTTClient, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		Limiter: ratelimit.NewLimiter(ratelimit.Config{
			MaxPings:      config.Engine.RateLimit.MaxPings,
			Window:        config.Engine.RateLimit.Window,
			InactivityTTL: config.Engine.RateLimit.InactivityTTL,
		}),
		Store: catalog.NewStore(),
	}

	agg, err := aggregator.NewAggregator(aggregator.Config{
		MinDevicesPerCell: config.Engine.MinDevicesPerCell,
		Retain:            config.Engine.RetainBuckets,
		Windows:           config.Engine.Windows,
		Location:          config.Location(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregator: %w", err)
	}
	e.Aggregator = agg

	anonymizer, err := anon.NewAnonymizer()
	if err != nil {
		return nil, fmt.Errorf("failed to create anonymizer: %w", err)
	}

	notifier, err := e.newNotifier(config, mqttClient, logger)
	if err != nil {
		return nil, err
	}

	e.Pipeline = pipeline.NewPipeline(pipeline.Config{
		CellPrecision: config.Engine.CellPrecision,
		MaxClockSkew:  config.Engine.MaxClockSkew,
		NotifyTimeout: config.Notifier.Timeout,
		Strict:        config.Engine.Strict,
	}, e.Limiter, e.Aggregator, e.Store, anonymizer, notifier, logger.With().Str("component", "pipeline").Logger())

	e.Heatmap, err = heatmap.NewReader(e.Aggregator, config.HTTP.CacheSize)
	if err != nil {
		return nil, err
	}

	e.API = api.NewAPI(api.Config{
		RequestTimeout: config.HTTP.RequestTimeout,
		IngressRPS:     config.HTTP.IngressRPS,
		IngressBurst:   config.HTTP.IngressBurst,
		AllowedOrigins: config.HTTP.AllowedOrigins,
	}, e.Pipeline, e.Heatmap, e.Store, logger.With().Str("component", "api").Logger())

	return e, nil
}

func (e *Engine) newNotifier(config *utils.Config, mqttClient mqtt.MQTTClient, logger zerolog.Logger) (pipeline.Notifier, error) {
	switch config.Notifier.Kind {
	case "mqtt":
		if mqttClient == nil {
			return nil, fmt.Errorf("mqtt notifier requires an mqtt client")
		}
		return notify.NewMQTTNotifier(config.Notifier.Topic, config.Notifier.QOS, mqttClient), nil
	case "kafka":
		n := notify.NewKafkaNotifier(notify.NewKafkaWriter(config.Notifier.Brokers, config.Notifier.Topic))
		e.closers = append(e.closers, n)
		return n, nil
	case "log", "":
		return notify.NewLogNotifier(logger.With().Str("component", "notifier").Logger()), nil
	}
	return nil, fmt.Errorf("unknown notifier kind %q", config.Notifier.Kind)
}

// CatalogSource builds the configured catalog source. The returned path is the
// file to watch for changes, empty for sources that are not files.
func (e *Engine) CatalogSource(config *utils.Config, fileClient file.FileOperations) (catalog.Source, string, error) {
	switch config.Catalog.Source {
	case "file":
		return catalog.NewFileSource(config.Catalog.Path, fileClient), config.Catalog.Path, nil
	case "geojson":
		return catalog.NewGeoJSONSource(config.Catalog.Path, config.Catalog.Version, fileClient), config.Catalog.Path, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     config.Catalog.Redis.Addr,
			Password: config.Catalog.Redis.Password,
			DB:       config.Catalog.Redis.DB,
		})
		e.closers = append(e.closers, client)
		return catalog.NewRedisSource(client, config.Catalog.Redis.Key), "", nil
	}
	return nil, "", fmt.Errorf("unknown catalog source %q", config.Catalog.Source)
}

// Close releases outbound connections held by the engine.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
