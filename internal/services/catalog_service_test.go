package services_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benmeehan/crowdsense/internal/catalog"
	"github.com/benmeehan/crowdsense/internal/services"
	"github.com/benmeehan/crowdsense/pkg/file"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogYAML = `version: %s
zones:
  - id: server-room
    name: Server room
    kind: circle
    center: {latitude: 12.9716, longitude: 77.5946}
    radius_meters: 100
    severity: high
locations: []
`

func writeCatalog(t *testing.T, path, version string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(catalogYAML, version)), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func newCatalogService(t *testing.T) (*services.CatalogService, *catalog.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	fs := file.NewFileService()
	store := catalog.NewStore()
	svc := services.NewCatalogService(catalog.NewFileSource(path, fs), store, time.Hour, path, fs, zerolog.Nop())
	return svc, store, path
}

func TestCatalogService_LoadsOnStart(t *testing.T) {
	// Setup
	svc, store, path := newCatalogService(t)
	writeCatalog(t, path, "1.0.0", t0)

	// Execute
	require.NoError(t, svc.Start())
	defer svc.Stop()

	// Assert
	snap := store.Current()
	assert.Equal(t, uint64(1), snap.Generation)
	require.Len(t, snap.Zones, 1)
	assert.Equal(t, "server-room", snap.Zones[0].ID)
}

func TestCatalogService_StartFailsWithoutCatalog(t *testing.T) {
	svc, store, _ := newCatalogService(t)

	assert.Error(t, svc.Start())
	assert.Equal(t, uint64(0), store.Current().Generation)
	assert.EqualError(t, svc.Stop(), "catalog service is not running")
}

func TestCatalogService_Reload(t *testing.T) {
	svc, store, path := newCatalogService(t)
	ctx := context.Background()

	writeCatalog(t, path, "1.0.0", t0)
	require.NoError(t, svc.Reload(ctx))
	assert.Equal(t, uint64(1), store.Current().Generation)

	// Unchanged file is skipped.
	require.NoError(t, svc.Reload(ctx))
	assert.Equal(t, uint64(1), store.Current().Generation)

	// Newer version is applied.
	writeCatalog(t, path, "1.1.0", t0.Add(time.Minute))
	require.NoError(t, svc.Reload(ctx))
	assert.Equal(t, uint64(2), store.Current().Generation)
	assert.Equal(t, "1.1.0", store.Current().Version.String())

	// Older version is ignored.
	writeCatalog(t, path, "0.9.0", t0.Add(2*time.Minute))
	require.NoError(t, svc.Reload(ctx))
	assert.Equal(t, "1.1.0", store.Current().Version.String())

	// Invalid document keeps the active catalog.
	require.NoError(t, os.WriteFile(path, []byte("version: banana\n"), 0o644))
	require.NoError(t, os.Chtimes(path, t0.Add(3*time.Minute), t0.Add(3*time.Minute)))
	assert.ErrorIs(t, svc.Reload(ctx), catalog.ErrInvalidCatalog)
	assert.Equal(t, uint64(2), store.Current().Generation)
}
