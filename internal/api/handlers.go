package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/benmeehan/crowdsense/internal/aggregator"
	"github.com/benmeehan/crowdsense/internal/geo"
	"github.com/benmeehan/crowdsense/internal/geofence"
	"github.com/benmeehan/crowdsense/internal/heatmap"
	"github.com/benmeehan/crowdsense/internal/metrics"
	"github.com/benmeehan/crowdsense/internal/pipeline"
	"github.com/benmeehan/crowdsense/internal/proximity"
)

// pingResponse tells the device only whether the ping was taken. Drop reasons
// stay in metrics.
type pingResponse struct {
	Accepted bool `json:"accepted"`
}

type coordinateRequest struct {
	Coordinate *geo.Coordinate `json:"coordinate"`
	Kind       proximity.Kind  `json:"kind,omitempty"`
}

type nearestResponse struct {
	Location       proximity.Location `json:"location"`
	DistanceMeters float64            `json:"distanceMeters"`
	WalkingMinutes int                `json:"walkingMinutes"`
}

type evaluateResponse struct {
	Breach bool           `json:"breach"`
	Zone   *geofence.Zone `json:"zone,omitempty"`
}

type catalogResponse struct {
	Generation uint64      `json:"generation"`
	Version    string      `json:"version"`
	Source     string      `json:"source"`
	LoadedAt   *time.Time  `json:"loadedAt,omitempty"`
	Bounds     *geo.Bounds `json:"bounds,omitempty"`
	Zones      int         `json:"zones"`
	Locations  int         `json:"locations"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError logs err and writes message as a JSON error body.
func (a *API) writeError(w http.ResponseWriter, status int, message string, err error) {
	event := a.logger.Debug()
	if status >= http.StatusInternalServerError {
		event = a.logger.Error()
	}
	event.Err(err).Int("status", status).Msg(message)
	writeJSON(w, status, errorResponse{Error: message})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func (a *API) postPing(w http.ResponseWriter, r *http.Request) {
	metrics.PingsReceivedTotal.WithLabelValues("http").Inc()

	if a.ingress != nil && !a.ingress.Allow() {
		metrics.PingsDroppedTotal.WithLabelValues(metrics.ReasonIngressLimit).Inc()
		a.writeError(w, http.StatusTooManyRequests, "too many requests", nil)
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}
	ping, err := pipeline.DecodePing(body)
	if err != nil {
		metrics.PingsDroppedTotal.WithLabelValues(metrics.ReasonInvalid).Inc()
		a.writeError(w, http.StatusBadRequest, err.Error(), err)
		return
	}

	outcome, err := a.pings.Process(r.Context(), ping)
	switch {
	case errors.Is(err, geo.ErrInvalidCoordinate),
		errors.Is(err, pipeline.ErrMissingDeviceToken),
		errors.Is(err, pipeline.ErrInvalidPing):
		a.writeError(w, http.StatusBadRequest, err.Error(), err)
		return
	case err != nil:
		a.writeError(w, http.StatusInternalServerError, "failed to process ping", err)
		return
	}

	writeJSON(w, http.StatusAccepted, pingResponse{Accepted: outcome.Accepted()})
}

func (a *API) getHeatmap(w http.ResponseWriter, r *http.Request) {
	window := r.URL.Query().Get("window")
	if window == "" {
		window = aggregator.Window15Min
	}

	var read func(string) (heatmap.Response, error)
	switch bucket := r.URL.Query().Get("bucket"); bucket {
	case "", "current":
		read = a.heatmaps.Read
	case "previous":
		read = a.heatmaps.ReadPrevious
	default:
		a.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown bucket %q", bucket), nil)
		return
	}

	resp, err := read(window)
	if errors.Is(err, aggregator.ErrUnknownWindow) {
		a.writeError(w, http.StatusBadRequest, err.Error(), err)
		return
	}
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "failed to build heatmap", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) decodeCoordinateRequest(w http.ResponseWriter, r *http.Request) (coordinateRequest, bool) {
	var req coordinateRequest
	body, err := readBody(w, r)
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return req, false
	}
	if req.Coordinate == nil {
		a.writeError(w, http.StatusBadRequest, "coordinate is required", nil)
		return req, false
	}
	if err := req.Coordinate.Validate(); err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error(), err)
		return req, false
	}
	return req, true
}

func (a *API) postNearest(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeCoordinateRequest(w, r)
	if !ok {
		return
	}
	if req.Kind != "" && !req.Kind.Valid() {
		a.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown location kind %q", req.Kind), nil)
		return
	}

	locations := a.catalog.Current().Locations
	var (
		result proximity.Result
		found  bool
	)
	if req.Kind == "" {
		result, found = proximity.Nearest(*req.Coordinate, locations)
	} else {
		result, found = proximity.NearestOfKind(*req.Coordinate, locations, req.Kind)
	}
	if !found {
		a.writeError(w, http.StatusNotFound, "no emergency location available", nil)
		return
	}

	writeJSON(w, http.StatusOK, nearestResponse{
		Location:       result.Location,
		DistanceMeters: result.DistanceMeters,
		WalkingMinutes: proximity.WalkingMinutes(result.DistanceMeters),
	})
}

func (a *API) postEvaluate(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeCoordinateRequest(w, r)
	if !ok {
		return
	}
	zone, breach := geofence.Evaluate(*req.Coordinate, a.catalog.Current().Zones)
	resp := evaluateResponse{Breach: breach}
	if breach {
		resp.Zone = &zone
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) getCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, describeCatalog(a.catalog))
}

func describeCatalog(c CatalogReader) catalogResponse {
	snap := c.Current()
	resp := catalogResponse{
		Generation: snap.Generation,
		Source:     snap.Source,
		Bounds:     snap.Bounds,
		Zones:      len(snap.Zones),
		Locations:  len(snap.Locations),
	}
	if snap.Version != nil {
		resp.Version = snap.Version.String()
	}
	if !snap.LoadedAt.IsZero() {
		loaded := snap.LoadedAt
		resp.LoadedAt = &loaded
	}
	return resp
}

func (a *API) healthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"catalogGeneration": a.catalog.Current().Generation,
	})
}
