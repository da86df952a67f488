package aggregate

import (
	"context"
	"sync"
	"time"

	orbgeo "github.com/paulmach/orb/geo"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/geodekking/pakketpunten/internal/cachefile"
	"github.com/geodekking/pakketpunten/internal/carrier"
	"github.com/geodekking/pakketpunten/internal/model"
)

// Origins reported in CarrierStatus.Source.
const (
	OriginLive     = "live"
	OriginCache    = "cache"
	OriginFallback = "live-fallback"
)

// Source yields one carrier's candidate locations for a search area. The
// aggregator filters them by the exact boundary afterwards.
type Source interface {
	Carrier() model.Carrier
	Locations(ctx context.Context, area carrier.Area) ([]model.Location, string, error)
}

// LiveSource queries a carrier for every municipality. Calls wait on a
// limiter shared by all workers of a batch.
type LiveSource struct {
	fetcher carrier.AreaFetcher
	limiter *rate.Limiter
}

// NewLiveSource creates a live source. A nil limiter means no delay.
func NewLiveSource(f carrier.AreaFetcher, limiter *rate.Limiter) *LiveSource {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &LiveSource{fetcher: f, limiter: limiter}
}

// Carrier implements Source.
func (s *LiveSource) Carrier() model.Carrier { return s.fetcher.Carrier() }

// Locations implements Source.
func (s *LiveSource) Locations(ctx context.Context, area carrier.Area) ([]model.Location, string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, OriginLive, eris.Wrap(err, "aggregate: wait for carrier limiter")
	}
	locs, err := s.fetcher.FetchArea(ctx, area)
	return locs, OriginLive, err
}

// CachedSource serves a carrier from its national cache file, loaded once
// per batch. When the file is missing or malformed it falls back to a live
// area query, if the carrier has one.
type CachedSource struct {
	carrier  model.Carrier
	path     string
	maxAge   time.Duration
	fallback *LiveSource
	log      *zap.Logger

	once sync.Once
	file *cachefile.File
	err  error
}

// NewCachedSource creates a cached source for c reading path. fallback may
// be nil. A positive maxAge logs a warning for older files.
func NewCachedSource(c model.Carrier, path string, maxAge time.Duration, fallback *LiveSource) *CachedSource {
	return &CachedSource{
		carrier:  c,
		path:     path,
		maxAge:   maxAge,
		fallback: fallback,
		log: zap.L().With(
			zap.String("component", "aggregate.cache"),
			zap.String("carrier", string(c)),
		),
	}
}

// Carrier implements Source.
func (s *CachedSource) Carrier() model.Carrier { return s.carrier }

func (s *CachedSource) load() {
	s.file, s.err = cachefile.Read(s.path)
	if s.err != nil {
		s.log.Warn("cache file unavailable", zap.String("path", s.path), zap.Error(s.err))
		return
	}
	if s.maxAge > 0 {
		if age := s.file.Age(time.Now()); age > s.maxAge {
			s.log.Warn("cache file is stale", zap.String("path", s.path), zap.Duration("age", age))
		}
	}
	s.log.Info("cache file loaded", zap.String("path", s.path), zap.Int("locations", len(s.file.Locations)))
}

// Locations implements Source. Cached locations are narrowed to the
// area's search circle.
func (s *CachedSource) Locations(ctx context.Context, area carrier.Area) ([]model.Location, string, error) {
	s.once.Do(s.load)
	if s.err == nil {
		var out []model.Location
		for _, l := range s.file.Locations {
			if orbgeo.Distance(area.Center, l.Point()) <= area.RadiusM {
				out = append(out, l)
			}
		}
		return out, OriginCache, nil
	}
	if s.fallback == nil {
		return nil, OriginCache, eris.Wrapf(s.err, "aggregate: %s cache unavailable and no live fallback", s.carrier)
	}
	s.log.Warn("using live fallback", zap.String("area", area.Name))
	locs, _, err := s.fallback.Locations(ctx, area)
	return locs, OriginFallback, err
}
