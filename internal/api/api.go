package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/benmeehan/crowdsense/internal/catalog"
	"github.com/benmeehan/crowdsense/internal/heatmap"
	"github.com/benmeehan/crowdsense/internal/metrics"
	"github.com/benmeehan/crowdsense/internal/models"
	"github.com/benmeehan/crowdsense/internal/pipeline"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 64 << 10

// PingProcessor runs a ping through the ingestion pipeline.
type PingProcessor interface {
	Process(ctx context.Context, ping models.Ping) (pipeline.Outcome, error)
}

// HeatmapReader renders heatmaps for a window.
type HeatmapReader interface {
	Read(window string) (heatmap.Response, error)
	ReadPrevious(window string) (heatmap.Response, error)
}

// CatalogReader exposes the active catalog snapshot.
type CatalogReader interface {
	Current() *catalog.Snapshot
}

// Config holds the HTTP tuning knobs.
type Config struct {
	RequestTimeout time.Duration
	IngressRPS     float64 // 0 disables the global ingress limiter
	IngressBurst   int
	AllowedOrigins []string
}

// API serves the crowdsense HTTP endpoints.
type API struct {
	router   *mux.Router
	cfg      Config
	pings    PingProcessor
	heatmaps HeatmapReader
	catalog  CatalogReader
	ingress  *rate.Limiter
	logger   zerolog.Logger
}

// NewAPI creates the API and registers its routes.
func NewAPI(cfg Config, pings PingProcessor, heatmaps HeatmapReader, catalog CatalogReader, logger zerolog.Logger) *API {
	a := &API{
		router:   mux.NewRouter(),
		cfg:      cfg,
		pings:    pings,
		heatmaps: heatmaps,
		catalog:  catalog,
		logger:   logger,
	}
	if cfg.IngressRPS > 0 {
		burst := cfg.IngressBurst
		if burst < 1 {
			burst = int(cfg.IngressRPS) + 1
		}
		a.ingress = rate.NewLimiter(rate.Limit(cfg.IngressRPS), burst)
	}
	a.setupRoutes()
	return a
}

func (a *API) setupRoutes() {
	a.router.Use(a.metricsMiddleware, a.timeoutMiddleware)

	v1 := a.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/pings", a.postPing).Methods(http.MethodPost)
	v1.HandleFunc("/heatmap", a.getHeatmap).Methods(http.MethodGet)
	v1.HandleFunc("/emergency/nearest", a.postNearest).Methods(http.MethodPost)
	v1.HandleFunc("/geofence/evaluate", a.postEvaluate).Methods(http.MethodPost)
	v1.HandleFunc("/catalog", a.getCatalog).Methods(http.MethodGet)

	a.router.HandleFunc("/healthz", a.healthCheck).Methods(http.MethodGet)
	a.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

// Handler returns the router wrapped with recovery, CORS and access logging.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = handlers.CORS(
		handlers.AllowedOrigins(a.cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{a.logger}))(h)
	return handlers.CustomLoggingHandler(nil, h, a.logAccess)
}

func (a *API) logAccess(_ io.Writer, p handlers.LogFormatterParams) {
	a.logger.Debug().
		Str("method", p.Request.Method).
		Str("path", p.URL.Path).
		Int("status", p.StatusCode).
		Int("size", p.Size).
		Dur("elapsed", time.Since(p.TimeStamp)).
		Msg("HTTP request")
}

type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Interface("panic", v).Msg("Recovered from panic in HTTP handler")
}
