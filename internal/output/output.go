// Package output builds and reads the GeoJSON files the pipeline publishes:
// one per municipality, the national point file and the national
// boundaries file.
package output

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"

	"github.com/geodekking/pakketpunten/internal/model"
)

// Feature types written to the type property.
const (
	TypePoint    = "pakketpunt"
	TypeBoundary = "boundary"
)

// File names of the national outputs.
const (
	NationalSlug      = "nederland"
	NationalFile      = "nederland.geojson"
	BoundariesSlug    = "nederland-boundaries"
	BoundariesFile    = "nederland-boundaries.geojson"
	fileExt           = ".geojson"
	metadataMemberKey = "metadata"
)

// CarrierStatus is the outcome of one carrier for one municipality.
type CarrierStatus struct {
	Success bool   `json:"success"`
	Count   int    `json:"count"`
	Source  string `json:"source,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Metadata is the top-level metadata member of every output file.
type Metadata struct {
	Gemeente    string    `json:"gemeente"`
	Slug        string    `json:"slug"`
	Code        string    `json:"code,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	TotalPoints int       `json:"total_points"`
	Providers   []string  `json:"providers,omitempty"`
	// Bounds is [minLon, minLat, maxLon, maxLat].
	Bounds        []float64                       `json:"bounds,omitempty"`
	AreaKm2       float64                         `json:"area_km2,omitempty"`
	BufferRadiiM  []float64                       `json:"buffer_radii_m,omitempty"`
	CarrierStatus map[model.Carrier]CarrierStatus `json:"carrier_status,omitempty"`

	MunicipalitiesIncluded int                   `json:"municipalities_included,omitempty"`
	MunicipalitiesSkipped  []string              `json:"municipalities_skipped,omitempty"`
	ProviderStats          map[model.Carrier]int `json:"provider_stats,omitempty"`
	BoundariesCount        int                   `json:"boundaries_count,omitempty"`
}

// FileName returns the municipality file name for slug.
func FileName(slug string) string {
	return slug + fileExt
}

// BufferType returns the type property of a buffer union feature.
func BufferType(radiusM float64) string {
	return fmt.Sprintf("buffer_union_%dm", int(math.Round(radiusM)))
}

// PointFeature converts a location into a pakketpunt feature.
func PointFeature(l model.Location) *geojson.Feature {
	f := geojson.NewFeature(l.Point())
	f.Properties["type"] = TypePoint
	f.Properties["locatieNaam"] = l.Name
	f.Properties["straatNaam"] = l.Street
	f.Properties["straatNr"] = l.Number
	f.Properties["vervoerder"] = string(l.Carrier)
	f.Properties["puntType"] = l.PointType
	f.Properties["bezettingsgraad"] = l.Key().Occupancy()
	f.Properties["latitude"] = l.Latitude
	f.Properties["longitude"] = l.Longitude
	if l.SourceID != "" {
		f.Properties["source_id"] = l.SourceID
	}
	return f
}

// LocationFromFeature reads a pakketpunt feature back into a location.
// It reports false for any other feature.
func LocationFromFeature(f *geojson.Feature) (model.Location, bool) {
	if f == nil || prop(f, "type") != TypePoint {
		return model.Location{}, false
	}
	p, ok := f.Geometry.(orb.Point)
	if !ok {
		return model.Location{}, false
	}
	return model.Location{
		Carrier:   model.Carrier(prop(f, "vervoerder")),
		Name:      prop(f, "locatieNaam"),
		Street:    prop(f, "straatNaam"),
		Number:    prop(f, "straatNr"),
		Latitude:  p[1],
		Longitude: p[0],
		PointType: prop(f, "puntType"),
		SourceID:  prop(f, "source_id"),
	}, true
}

// BufferFeature wraps the union of buffers at radiusM.
func BufferFeature(radiusM float64, mp orb.MultiPolygon) *geojson.Feature {
	f := geojson.NewFeature(mp)
	f.Properties["type"] = BufferType(radiusM)
	f.Properties["buffer_m"] = radiusM
	return f
}

// BoundaryFeature wraps a municipality polygon.
func BoundaryFeature(gemeente string, mp orb.MultiPolygon) *geojson.Feature {
	f := geojson.NewFeature(mp)
	f.Properties["type"] = TypeBoundary
	f.Properties["gemeente"] = gemeente
	return f
}

// FeatureType returns the type property of f.
func FeatureType(f *geojson.Feature) string {
	return prop(f, "type")
}

func prop(f *geojson.Feature, key string) string {
	s, _ := f.Properties[key].(string)
	return s
}

// NewCollection returns a feature collection carrying meta.
func NewCollection(meta Metadata, features ...*geojson.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Features = append(fc.Features, features...)
	SetMetadata(fc, meta)
	return fc
}

// SetMetadata replaces the metadata member of fc.
func SetMetadata(fc *geojson.FeatureCollection, meta Metadata) {
	if fc.ExtraMembers == nil {
		fc.ExtraMembers = geojson.Properties{}
	}
	fc.ExtraMembers[metadataMemberKey] = meta
}

// GetMetadata decodes the metadata member of fc.
func GetMetadata(fc *geojson.FeatureCollection) (Metadata, error) {
	var meta Metadata
	raw, ok := fc.ExtraMembers[metadataMemberKey]
	if !ok {
		return meta, eris.New("output: collection has no metadata")
	}
	if m, ok := raw.(Metadata); ok {
		return m, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return meta, eris.Wrap(err, "output: encode metadata")
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, eris.Wrap(err, "output: decode metadata")
	}
	return meta, nil
}

// Bounds returns [minLon, minLat, maxLon, maxLat] of the point features, or
// nil when there are none.
func Bounds(locs []model.Location) []float64 {
	if len(locs) == 0 {
		return nil
	}
	b := locs[0].Point().Bound()
	for _, l := range locs[1:] {
		b = b.Extend(l.Point())
	}
	return []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
}

// Read loads a feature collection from path.
func Read(path string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "output: read %s", path)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, eris.Wrapf(err, "output: parse %s", path)
	}
	return fc, nil
}

// Write stores fc at path.
func Write(path string, fc *geojson.FeatureCollection) error {
	data, err := json.Marshal(fc)
	if err != nil {
		return eris.Wrapf(err, "output: marshal %s", filepath.Base(path))
	}
	return WriteAtomic(path, data)
}

// WriteAtomic writes data to a temp file next to path and renames it into
// place, so readers never observe a partial file.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "output: create dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrapf(err, "output: create temp file for %s", path)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrapf(err, "output: write %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "output: close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "output: replace %s", path)
	}
	return nil
}
