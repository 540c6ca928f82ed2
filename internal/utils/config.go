package utils

import (
	"fmt"
	"os"
	"time"

	"github.com/benmeehan/crowdsense/internal/aggregator"
	"github.com/benmeehan/crowdsense/internal/geo"
	"github.com/benmeehan/crowdsense/internal/ratelimit"
	"github.com/benmeehan/crowdsense/pkg/file"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Environment variables that override secrets in the configuration file.
const (
	EnvMQTTBroker    = "CROWDSENSE_MQTT_BROKER"
	EnvRedisPassword = "CROWDSENSE_REDIS_PASSWORD"
	EnvMapsAPIKey    = "CROWDSENSE_MAPS_API_KEY"
)

// Config represents the structure of the configuration file.
type Config struct {
	Log struct {
		Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"` // Log level
		Pretty bool   `yaml:"pretty"`                                                       // Human readable console output
	} `yaml:"log"`

	MQTT struct {
		Enabled       bool   `yaml:"enabled"`        // Connect to an MQTT broker
		Broker        string `yaml:"broker"`         // MQTT broker address
		ClientID      string `yaml:"client_id"`      // MQTT client ID prefix
		CACertificate string `yaml:"ca_certificate"` // Path to the CA certificate, empty for plain TCP
	} `yaml:"mqtt"`

	Engine struct {
		MinDevicesPerCell int                     `yaml:"min_devices_per_cell" validate:"gte=1"`  // k-anonymity threshold
		CellPrecision     int                     `yaml:"cell_precision" validate:"gte=1,lte=12"` // Geohash length of a cell
		RetainBuckets     int                     `yaml:"retain_buckets" validate:"gte=1"`        // Buckets kept per window, current included
		Timezone          string                  `yaml:"timezone"`                               // IANA zone that aligns buckets to local midnight
		Windows           []aggregator.WindowSpec `yaml:"windows" validate:"dive"`                // Aggregation windows
		MaxClockSkew      time.Duration           `yaml:"max_clock_skew" validate:"gte=0"`        // Future tolerance for device timestamps
		Strict            bool                    `yaml:"strict"`                                 // Re-panic on programmer errors (development)
		RateLimit         struct {
			MaxPings      int           `yaml:"max_pings" validate:"gte=1"`     // Accepted pings per window per device
			Window        time.Duration `yaml:"window" validate:"gt=0"`         // Trailing rate limit window
			InactivityTTL time.Duration `yaml:"inactivity_ttl" validate:"gt=0"` // Forget devices idle this long
		} `yaml:"rate_limit"`
	} `yaml:"engine"`

	Catalog struct {
		Source          string        `yaml:"source" validate:"oneof=file geojson redis"` // Where zones and locations come from
		Path            string        `yaml:"path"`                                       // File path for file and geojson sources
		Version         string        `yaml:"version"`                                    // Catalog version for geojson sources
		RefreshInterval time.Duration `yaml:"refresh_interval" validate:"gt=0"`           // How often the catalog is reloaded
		Redis           struct {
			Addr     string `yaml:"addr"`     // Redis address
			Password string `yaml:"password"` // Redis password
			DB       int    `yaml:"db"`       // Redis database
			Key      string `yaml:"key"`      // Key holding the JSON catalog
		} `yaml:"redis"`
	} `yaml:"catalog"`

	Notifier struct {
		Kind    string        `yaml:"kind" validate:"oneof=log mqtt kafka"` // Breach sink
		Topic   string        `yaml:"topic"`                                // MQTT or Kafka topic for breach events
		QOS     int           `yaml:"qos" validate:"gte=0,lte=2"`           // MQTT QoS level for breach events
		Brokers []string      `yaml:"brokers"`                              // Kafka brokers
		Timeout time.Duration `yaml:"timeout" validate:"gt=0"`              // Delivery timeout per event
	} `yaml:"notifier"`

	HTTP struct {
		Enabled        bool          `yaml:"enabled"`                                 // Serve the HTTP API
		Addr           string        `yaml:"addr"`                                    // Listen address
		RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`         // Per request deadline
		IngressRPS     float64       `yaml:"ingress_rps" validate:"gte=0"`            // Global ping ingestion rate, 0 disables
		IngressBurst   int           `yaml:"ingress_burst" validate:"gte=0"`          // Burst for the ingestion rate
		AllowedOrigins []string      `yaml:"allowed_origins"`                         // CORS origins
		CacheSize      int           `yaml:"cell_center_cache_size" validate:"gte=0"` // Memoised heatmap cell centers
	} `yaml:"http"`

	Services struct {
		Ingest struct {
			Enabled bool   `yaml:"enabled"` // Enable/disable MQTT ping ingestion
			Topic   string `yaml:"topic"`   // MQTT topic devices publish pings to
			QOS     int    `yaml:"qos"`     // MQTT QoS level for the subscription
			Workers int    `yaml:"workers"` // Worker pool size
		} `yaml:"ingest"`

		Sweeper struct {
			Interval time.Duration `yaml:"interval" validate:"gt=0"` // Interval between eviction and expiry sweeps
		} `yaml:"sweeper"`

		Stats struct {
			Enabled  bool          `yaml:"enabled"`  // Enable/disable stats publishing
			Topic    string        `yaml:"topic"`    // MQTT topic for engine stats
			Interval time.Duration `yaml:"interval"` // Interval between stats reports
			QOS      int           `yaml:"qos"`      // MQTT QoS level for stats messages
		} `yaml:"stats"`
	} `yaml:"services"`

	Pinger struct {
		Topic             string        `yaml:"topic"`           // MQTT topic pings are published to
		Interval          time.Duration `yaml:"interval"`        // Interval between pings
		QOS               int           `yaml:"qos"`             // MQTT QoS level for ping messages
		TokenRotation     time.Duration `yaml:"token_rotation"`  // How often the anonymous token is replaced
		SensorBased       bool          `yaml:"sensor_based"`    // Use the GPS sensor instead of the geolocation api
		MapsAPIKey        string        `yaml:"maps_api_key"`    // Google maps API Key
		GPSDeviceBaudRate int           `yaml:"gps_baud_rate"`   // The Baud rate for GPS sensor
		GPSDevicePort     string        `yaml:"gps_device_port"` // UNIX Port where the GPS sensor is mounted
	} `yaml:"pinger"`
}

// LoadConfig loads the YAML configuration from the specified file, applies
// defaults and environment overrides, and validates the result.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", filename, err)
	}

	config.ApplyDefaults()
	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadEnvFile loads variables from a .env file if it exists. Variables already
// set in the environment win.
func LoadEnvFile(filename string, fileClient file.FileOperations) error {
	exists, err := fileClient.IsFileExists(filename)
	if err != nil || !exists {
		return err
	}
	return godotenv.Load(filename)
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "crowdsense"
	}

	e := &c.Engine
	if e.MinDevicesPerCell == 0 {
		e.MinDevicesPerCell = aggregator.DefaultMinDevicesPerCell
	}
	if e.CellPrecision == 0 {
		e.CellPrecision = geo.DefaultCellPrecision
	}
	if e.RetainBuckets == 0 {
		e.RetainBuckets = aggregator.DefaultRetain
	}
	if e.Timezone == "" {
		e.Timezone = "UTC"
	}
	if len(e.Windows) == 0 {
		e.Windows = aggregator.DefaultWindows()
	}
	if e.MaxClockSkew == 0 {
		e.MaxClockSkew = 2 * time.Minute
	}
	if e.RateLimit.MaxPings == 0 {
		e.RateLimit.MaxPings = ratelimit.DefaultMaxPings
	}
	if e.RateLimit.Window == 0 {
		e.RateLimit.Window = ratelimit.DefaultWindow
	}
	if e.RateLimit.InactivityTTL == 0 {
		e.RateLimit.InactivityTTL = ratelimit.DefaultInactivityTTL
	}

	if c.Catalog.Source == "" {
		c.Catalog.Source = "file"
	}
	if c.Catalog.RefreshInterval == 0 {
		c.Catalog.RefreshInterval = time.Minute
	}
	if c.Catalog.Redis.Key == "" {
		c.Catalog.Redis.Key = "crowdsense:catalog"
	}

	if c.Notifier.Kind == "" {
		c.Notifier.Kind = "log"
	}
	if c.Notifier.Timeout == 0 {
		c.Notifier.Timeout = 5 * time.Second
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.RequestTimeout == 0 {
		c.HTTP.RequestTimeout = 5 * time.Second
	}

	if c.Services.Ingest.Workers == 0 {
		c.Services.Ingest.Workers = 8
	}
	if c.Services.Sweeper.Interval == 0 {
		c.Services.Sweeper.Interval = time.Minute
	}
	if c.Services.Stats.Interval == 0 {
		c.Services.Stats.Interval = time.Minute
	}

	if c.Pinger.Interval == 0 {
		c.Pinger.Interval = time.Minute
	}
	if c.Pinger.TokenRotation == 0 {
		c.Pinger.TokenRotation = 24 * time.Hour
	}
}

// ApplyEnv overrides secrets from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvMQTTBroker); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Catalog.Redis.Password = v
	}
	if v := os.Getenv(EnvMapsAPIKey); v != "" {
		c.Pinger.MapsAPIKey = v
	}
}

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
		return fmt.Errorf("invalid config: timezone %q: %w", c.Engine.Timezone, err)
	}
	if (c.Catalog.Source == "file" || c.Catalog.Source == "geojson") && c.Catalog.Path == "" {
		return fmt.Errorf("invalid config: catalog.path is required for %s catalogs", c.Catalog.Source)
	}
	if c.Catalog.Source == "redis" && c.Catalog.Redis.Addr == "" {
		return fmt.Errorf("invalid config: catalog.redis.addr is required for redis catalogs")
	}
	needsMQTT := c.Notifier.Kind == "mqtt" || c.Services.Ingest.Enabled || c.Services.Stats.Enabled
	if needsMQTT && (!c.MQTT.Enabled || c.MQTT.Broker == "") {
		return fmt.Errorf("invalid config: mqtt broker is required by the notifier, ingest or stats service")
	}
	if c.Notifier.Kind != "log" && c.Notifier.Topic == "" {
		return fmt.Errorf("invalid config: notifier.topic is required for %s notifier", c.Notifier.Kind)
	}
	if c.Notifier.Kind == "kafka" && len(c.Notifier.Brokers) == 0 {
		return fmt.Errorf("invalid config: notifier.brokers is required for kafka notifier")
	}
	return nil
}

// Location returns the time zone buckets are aligned to.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Engine.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
