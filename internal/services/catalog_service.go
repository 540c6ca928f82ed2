package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benmeehan/crowdsense/internal/catalog"
	"github.com/benmeehan/crowdsense/internal/metrics"
	"github.com/benmeehan/crowdsense/pkg/file"
	"github.com/rs/zerolog"
)

// Reload results reported on CatalogReloadsTotal.
const (
	reloadApplied   = "applied"
	reloadUnchanged = "unchanged"
	reloadStale     = "stale"
	reloadError     = "error"
)

// CatalogService loads the zone and location catalog at startup and reloads it
// periodically. A failed reload keeps the active catalog.
type CatalogService struct {
	source     catalog.Source
	store      *catalog.Store
	interval   time.Duration
	timeout    time.Duration
	watchPath  string
	fileClient file.FileOperations
	logger     zerolog.Logger

	lastModTime time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCatalogService creates a new CatalogService. When watchPath is set the
// source is only reloaded after the file's modification time changes.
func NewCatalogService(source catalog.Source, store *catalog.Store, interval time.Duration,
	watchPath string, fileClient file.FileOperations, logger zerolog.Logger) *CatalogService {
	return &CatalogService{
		source:     source,
		store:      store,
		interval:   interval,
		timeout:    10 * time.Second,
		watchPath:  watchPath,
		fileClient: fileClient,
		logger:     logger,
	}
}

// Start loads the catalog once and fails if it cannot, then reloads it on
// every tick.
func (c *CatalogService) Start() error {
	if c.ctx != nil {
		c.logger.Warn().Msg("CatalogService is already running")
		return errors.New("catalog service is already running")
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	if err := c.Reload(c.ctx); err != nil {
		c.cancel()
		c.ctx = nil
		c.logger.Error().Err(err).Str("source", c.source.Name()).Msg("Failed to load initial catalog")
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := c.Reload(c.ctx); err != nil {
					c.logger.Error().Err(err).Str("source", c.source.Name()).Msg("Failed to reload catalog")
				}
			case <-c.ctx.Done():
				return
			}
		}
	}()

	c.logger.Info().
		Str("source", c.source.Name()).
		Dur("interval", c.interval).
		Msg("CatalogService started")
	return nil
}

// Reload loads the source and applies it to the store. Applying the active or
// an older version leaves the catalog unchanged.
func (c *CatalogService) Reload(ctx context.Context) (err error) {
	if c.watchPath != "" && c.fileClient != nil {
		modTime, err := c.fileClient.ModTime(c.watchPath)
		if err != nil {
			metrics.CatalogReloadsTotal.WithLabelValues(reloadError).Inc()
			return err
		}
		if !c.lastModTime.IsZero() && modTime.Equal(c.lastModTime) {
			metrics.CatalogReloadsTotal.WithLabelValues(reloadUnchanged).Inc()
			return nil
		}
		defer func() {
			if err == nil {
				c.lastModTime = modTime
			}
		}()
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	doc, err := c.source.Load(ctx)
	if err != nil {
		metrics.CatalogReloadsTotal.WithLabelValues(reloadError).Inc()
		return err
	}

	before := c.store.Current().Generation
	snap, err := c.store.Apply(doc, c.source.Name(), time.Now())
	switch {
	case errors.Is(err, catalog.ErrStaleVersion):
		metrics.CatalogReloadsTotal.WithLabelValues(reloadStale).Inc()
		c.logger.Warn().Err(err).Str("source", c.source.Name()).Msg("Ignoring stale catalog")
		return nil
	case err != nil:
		metrics.CatalogReloadsTotal.WithLabelValues(reloadError).Inc()
		return err
	}

	if snap.Generation == before {
		metrics.CatalogReloadsTotal.WithLabelValues(reloadUnchanged).Inc()
		return nil
	}

	metrics.CatalogReloadsTotal.WithLabelValues(reloadApplied).Inc()
	metrics.CatalogGeneration.Set(float64(snap.Generation))
	c.logger.Info().
		Uint64("generation", snap.Generation).
		Str("version", snap.Version.String()).
		Int("zones", len(snap.Zones)).
		Int("locations", len(snap.Locations)).
		Msg("Catalog applied")
	return nil
}

// Stop gracefully stops the periodic reload.
func (c *CatalogService) Stop() error {
	if c.ctx == nil {
		c.logger.Warn().Msg("CatalogService is not running")
		return errors.New("catalog service is not running")
	}

	c.cancel()
	c.wg.Wait()
	c.ctx = nil
	c.logger.Info().Msg("CatalogService stopped")
	return nil
}
