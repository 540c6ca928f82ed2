package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/benmeehan/crowdsense/internal/geo"
	"github.com/benmeehan/crowdsense/internal/geofence"
	"github.com/benmeehan/crowdsense/internal/proximity"
	"github.com/benmeehan/crowdsense/pkg/file"
	geojson "github.com/paulmach/go.geojson"
	"github.com/redis/go-redis/v9"
)

// Source loads catalog documents.
type Source interface {
	Name() string
	Load(ctx context.Context) (Document, error)
}

// FileSource reads a YAML or JSON catalog document from disk.
type FileSource struct {
	path       string
	fileClient file.FileOperations
}

// NewFileSource creates a FileSource. Files ending in .json are decoded as
// JSON, everything else as YAML.
func NewFileSource(path string, fileClient file.FileOperations) *FileSource {
	return &FileSource{path: path, fileClient: fileClient}
}

func (f *FileSource) Name() string {
	return "file:" + f.path
}

func (f *FileSource) Load(_ context.Context) (Document, error) {
	var doc Document
	var err error
	if strings.EqualFold(filepath.Ext(f.path), ".json") {
		err = f.fileClient.ReadJsonFile(f.path, &doc)
	} else {
		err = f.fileClient.ReadYamlFile(f.path, &doc)
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to read catalog file %s: %w", f.path, err)
	}
	return doc, nil
}

// GeoJSON feature properties understood by GeoJSONSource.
const (
	propID          = "id"
	propName        = "name"
	propCategory    = "category" // "zone" (default) or "emergency"
	propSeverity    = "severity"
	propDescription = "description"
	propRadius      = "radius_meters"
	propKind        = "kind"
	propPriority    = "priority"

	categoryEmergency = "emergency"
)

// GeoJSONSource reads zones and emergency locations from a GeoJSON feature
// collection. Polygons become polygon zones, points with a radius become circle
// zones, and points with category "emergency" become emergency locations. The
// collection bbox, when present, is used as the campus bounds.
type GeoJSONSource struct {
	path       string
	version    string
	fileClient file.FileOperations
}

// NewGeoJSONSource creates a GeoJSONSource. GeoJSON has no version field, so the
// catalog version is supplied by configuration.
func NewGeoJSONSource(path, version string, fileClient file.FileOperations) *GeoJSONSource {
	return &GeoJSONSource{path: path, version: version, fileClient: fileClient}
}

func (g *GeoJSONSource) Name() string {
	return "geojson:" + g.path
}

func (g *GeoJSONSource) Load(_ context.Context) (Document, error) {
	data, err := g.fileClient.ReadFileRaw(g.path)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read geojson file %s: %w", g.path, err)
	}
	return DecodeGeoJSON(data, g.version)
}

// DecodeGeoJSON converts a GeoJSON feature collection into a Document.
func DecodeGeoJSON(data []byte, version string) (Document, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	doc := Document{Version: version}
	if len(fc.BoundingBox) == 4 {
		doc.Bounds = &geo.Bounds{
			West:  fc.BoundingBox[0],
			South: fc.BoundingBox[1],
			East:  fc.BoundingBox[2],
			North: fc.BoundingBox[3],
		}
	}

	for i, f := range fc.Features {
		if f.Geometry == nil {
			return Document{}, fmt.Errorf("%w: feature %d has no geometry", ErrInvalidCatalog, i)
		}
		id := f.PropertyMustString(propID, fmt.Sprintf("feature-%d", i))
		name := f.PropertyMustString(propName, id)

		switch {
		case f.Geometry.IsPolygon():
			if len(f.Geometry.Polygon) == 0 {
				return Document{}, fmt.Errorf("%w: feature %s has an empty polygon", ErrInvalidCatalog, id)
			}
			doc.Zones = append(doc.Zones, geofence.Zone{
				ID:          id,
				Name:        name,
				Kind:        geofence.KindPolygon,
				Vertices:    ringToVertices(f.Geometry.Polygon[0]),
				Severity:    geofence.Severity(f.PropertyMustString(propSeverity, string(geofence.SeverityMedium))),
				Description: f.PropertyMustString(propDescription, ""),
			})
		case f.Geometry.IsPoint():
			if len(f.Geometry.Point) < 2 {
				return Document{}, fmt.Errorf("%w: feature %s has an invalid point", ErrInvalidCatalog, id)
			}
			point := geo.Coordinate{Latitude: f.Geometry.Point[1], Longitude: f.Geometry.Point[0]}
			if f.PropertyMustString(propCategory, "") == categoryEmergency {
				doc.Locations = append(doc.Locations, proximity.Location{
					ID:         id,
					Name:       name,
					Coordinate: point,
					Kind:       proximity.Kind(f.PropertyMustString(propKind, "")),
					Priority:   int(f.PropertyMustFloat64(propPriority, 0)),
				})
				continue
			}
			doc.Zones = append(doc.Zones, geofence.Zone{
				ID:           id,
				Name:         name,
				Kind:         geofence.KindCircle,
				Center:       point,
				RadiusMeters: f.PropertyMustFloat64(propRadius, 0),
				Severity:     geofence.Severity(f.PropertyMustString(propSeverity, string(geofence.SeverityMedium))),
				Description:  f.PropertyMustString(propDescription, ""),
			})
		default:
			return Document{}, fmt.Errorf("%w: feature %s has unsupported geometry %s", ErrInvalidCatalog, id, f.Geometry.Type)
		}
	}
	return doc, nil
}

// ringToVertices converts a GeoJSON [lng, lat] ring to coordinates, dropping the
// closing vertex that repeats the first one.
func ringToVertices(ring [][]float64) []geo.Coordinate {
	vertices := make([]geo.Coordinate, 0, len(ring))
	for _, p := range ring {
		if len(p) < 2 {
			continue
		}
		vertices = append(vertices, geo.Coordinate{Latitude: p[1], Longitude: p[0]})
	}
	if n := len(vertices); n > 1 && vertices[0] == vertices[n-1] {
		vertices = vertices[:n-1]
	}
	return vertices
}

// RedisSource reads a JSON catalog document stored under a single Redis key.
type RedisSource struct {
	client redis.Cmdable
	key    string
}

// NewRedisSource creates a RedisSource.
func NewRedisSource(client redis.Cmdable, key string) *RedisSource {
	return &RedisSource{client: client, key: key}
}

func (r *RedisSource) Name() string {
	return "redis:" + r.key
}

func (r *RedisSource) Load(ctx context.Context) (Document, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Document{}, fmt.Errorf("catalog key %s not found", r.key)
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to read catalog key %s: %w", r.key, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return doc, nil
}

// Publish stores doc under the source key so other instances pick it up on
// their next refresh.
func (r *RedisSource) Publish(ctx context.Context, doc Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write catalog key %s: %w", r.key, err)
	}
	return nil
}
