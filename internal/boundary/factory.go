package boundary

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/geodekking/pakketpunten/internal/config"
	"github.com/geodekking/pakketpunten/internal/fetcher"
	"github.com/geodekking/pakketpunten/internal/resilience"
)

// FromConfig builds the configured resolver wrapped in a CachedResolver.
// store may be nil.
func FromConfig(cfg config.BoundaryConfig, f fetcher.Fetcher, store Store) (Resolver, error) {
	var base Resolver
	switch cfg.Provider {
	case "", "overpass":
		// The Overpass server timeout stays below the HTTP client timeout.
		base = NewOverpassResolver(f, cfg.OverpassURL, cfg.TimeoutSecs/2)
	case "shapefile":
		sr, err := NewShapefileResolver(cfg.ShapefilePath, cfg.NameField, cfg.CodeField)
		if err != nil {
			return nil, err
		}
		base = sr
	default:
		return nil, resilience.NewConfigError(eris.Errorf("boundary: unknown provider %q", cfg.Provider))
	}
	return NewCachedResolver(base, time.Duration(cfg.CacheTTLHours)*time.Hour, store), nil
}
