package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons used with PingsDroppedTotal.
const (
	ReasonRateLimited  = "rate_limited"
	ReasonInvalid      = "invalid"
	ReasonStale        = "stale"
	ReasonOutOfBounds  = "out_of_bounds"
	ReasonInternal     = "internal_error"
	ReasonIngressLimit = "ingress_limited"
)

var (
	PingsReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdsense_pings_received_total",
		Help: "Total pings received by transport",
	}, []string{"transport"})
	PingsAcceptedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crowdsense_pings_accepted_total",
		Help: "Total pings that passed the rate limiter",
	})
	PingsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdsense_pings_dropped_total",
		Help: "Total pings dropped before or during aggregation, by reason",
	}, []string{"reason"})
	BreachesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdsense_breaches_total",
		Help: "Total geofence breaches detected, by severity",
	}, []string{"severity"})
	NotifyFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crowdsense_notify_failures_total",
		Help: "Total breach notifications that could not be delivered",
	})
	ProcessDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "crowdsense_process_duration_ms",
		Help:    "Pipeline processing duration in milliseconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 50},
	})
	TrackedDevices = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crowdsense_rate_limiter_tracked_devices",
		Help: "Devices currently tracked by the rate limiter",
	})
	LiveCells = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crowdsense_live_cells",
		Help: "Cells in the current bucket including suppressed ones, by window",
	}, []string{"window"})
	CatalogGeneration = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crowdsense_catalog_generation",
		Help: "Generation of the active zone and location catalog",
	})
	CatalogReloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdsense_catalog_reloads_total",
		Help: "Catalog reload attempts by result",
	}, []string{"result"})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdsense_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "code"})
	HTTPDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crowdsense_http_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(PingsReceivedTotal)
	prometheus.MustRegister(PingsAcceptedTotal)
	prometheus.MustRegister(PingsDroppedTotal)
	prometheus.MustRegister(BreachesTotal)
	prometheus.MustRegister(NotifyFailuresTotal)
	prometheus.MustRegister(ProcessDurationMs)
	prometheus.MustRegister(TrackedDevices)
	prometheus.MustRegister(LiveCells)
	prometheus.MustRegister(CatalogGeneration)
	prometheus.MustRegister(CatalogReloadsTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPDurationMs)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
