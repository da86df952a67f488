package boundary

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/geodekking/pakketpunten/internal/municipality"
)

// Store persists resolved boundaries between runs as EWKB.
type Store interface {
	LoadBoundary(ctx context.Context, slug string, maxAge time.Duration) ([]byte, bool, error)
	SaveBoundary(ctx context.Context, slug, name, code string, wkb []byte, areaKm2 float64) error
}

// CachedResolver keeps resolved boundaries in memory for ttl and, when a
// Store is given, in the run database. Failures are never cached.
type CachedResolver struct {
	next  Resolver
	mem   *cache.Cache
	store Store
	ttl   time.Duration
	log   *zap.Logger
}

// NewCachedResolver wraps next. store may be nil.
func NewCachedResolver(next Resolver, ttl time.Duration, store Store) *CachedResolver {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &CachedResolver{
		next:  next,
		mem:   cache.New(ttl, ttl/2),
		store: store,
		ttl:   ttl,
		log:   zap.L().With(zap.String("component", "boundary.cache")),
	}
}

// Resolve implements Resolver.
func (c *CachedResolver) Resolve(ctx context.Context, m municipality.Municipality) (*Boundary, error) {
	key := m.Slug
	if key == "" {
		key = municipality.Slugify(m.Name)
	}
	if v, ok := c.mem.Get(key); ok {
		return v.(*Boundary), nil
	}

	if c.store != nil {
		if b := c.fromStore(ctx, key, m); b != nil {
			c.mem.Set(key, b, cache.DefaultExpiration)
			return b, nil
		}
	}

	b, err := c.next.Resolve(ctx, m)
	if err != nil {
		return nil, err
	}
	c.mem.Set(key, b, cache.DefaultExpiration)

	if c.store != nil {
		wkb, err := EncodeEWKB(b.Polygon)
		if err == nil {
			err = c.store.SaveBoundary(ctx, b.Slug, b.Name, b.Code, wkb, b.AreaKm2())
		}
		if err != nil {
			c.log.Warn("persist boundary failed", zap.String("municipality", m.Name), zap.Error(err))
		}
	}
	return b, nil
}

func (c *CachedResolver) fromStore(ctx context.Context, key string, m municipality.Municipality) *Boundary {
	wkb, ok, err := c.store.LoadBoundary(ctx, key, c.ttl)
	if err != nil {
		c.log.Warn("load stored boundary failed", zap.String("municipality", m.Name), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	mp, err := DecodeEWKB(wkb)
	if err != nil {
		c.log.Warn("stored boundary unreadable", zap.String("municipality", m.Name), zap.Error(err))
		return nil
	}
	b, err := New(m, mp)
	if err != nil {
		return nil
	}
	return b
}
