// Package cachefile reads and writes the national location files that
// stand in for expensive carrier queries during a batch run.
package cachefile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geodekking/pakketpunten/internal/gridfetch"
	"github.com/geodekking/pakketpunten/internal/model"
	"github.com/geodekking/pakketpunten/internal/output"
)

// Fetch methods recorded in Metadata.Method.
const (
	MethodGrid = "grid-based-fetch"
	MethodDump = "nationwide-dump"
)

// ErrMalformed is returned when a cache file exists but cannot be used.
var ErrMalformed = eris.New("cachefile: malformed cache file")

// Metadata describes how a cache file was produced.
type Metadata struct {
	Carrier        model.Carrier `json:"carrier"`
	TotalLocations int           `json:"total_locations"`
	Method         string        `json:"method"`
	GeneratedAt    time.Time     `json:"generated_at"`
	Grid           *GridMetadata `json:"grid,omitempty"`
}

// GridMetadata records the parameters and outcome of a grid fetch.
type GridMetadata struct {
	SpacingM float64          `json:"grid_spacing_m"`
	RadiusM  float64          `json:"search_radius_m"`
	Cap      int              `json:"api_limit"`
	MaxDepth int              `json:"max_depth"`
	Envelope [4]float64       `json:"coverage_area"`
	Stats    gridfetch.Stats  `json:"stats"`
	GapCells []gridfetch.Cell `json:"gap_cells,omitempty"`
}

// File is the on-disk layout.
type File struct {
	Metadata  Metadata         `json:"metadata"`
	Locations []model.Location `json:"locations"`
}

// PathFor returns the cache file path for carrier in dir.
func PathFor(dir string, c model.Carrier) string {
	return filepath.Join(dir, c.Key()+"_all_locations.json")
}

// Write stores f at path, replacing any previous file atomically.
// TotalLocations is set from the location count.
func Write(path string, f *File) error {
	f.Metadata.TotalLocations = len(f.Locations)
	if f.Metadata.GeneratedAt.IsZero() {
		f.Metadata.GeneratedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return eris.Wrap(err, "cachefile: marshal")
	}

	if err := output.WriteAtomic(path, data); err != nil {
		return eris.Wrap(err, "cachefile: write")
	}

	zap.L().Info("cache file written",
		zap.String("component", "cachefile"),
		zap.String("path", path),
		zap.Int("locations", len(f.Locations)),
	)
	return nil
}

// Read loads the cache file at path. Locations failing Validate are
// dropped with a warning; a file without a locations array is
// ErrMalformed.
func Read(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "cachefile: read %s", path)
	}

	var raw struct {
		Metadata  Metadata          `json:"metadata"`
		Locations *[]model.Location `json:"locations"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(ErrMalformed, "%s: %v", path, err)
	}
	if raw.Locations == nil {
		return nil, eris.Wrapf(ErrMalformed, "%s has no locations", path)
	}

	f := &File{Metadata: raw.Metadata, Locations: make([]model.Location, 0, len(*raw.Locations))}
	var dropped int
	for _, l := range *raw.Locations {
		if l.Carrier == "" {
			l.Carrier = raw.Metadata.Carrier
		}
		if err := l.Validate(); err != nil {
			dropped++
			continue
		}
		f.Locations = append(f.Locations, l)
	}
	if dropped > 0 {
		zap.L().Warn("invalid cached locations dropped",
			zap.String("component", "cachefile"),
			zap.String("path", path),
			zap.Int("count", dropped),
		)
	}
	return f, nil
}

// Age returns how long before now the file was generated.
func (f *File) Age(now time.Time) time.Duration {
	return now.Sub(f.Metadata.GeneratedAt)
}
