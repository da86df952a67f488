package aggregate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/geodekking/pakketpunten/internal/cachefile"
	"github.com/geodekking/pakketpunten/internal/carrier"
	"github.com/geodekking/pakketpunten/internal/model"
)

func testArea() carrier.Area {
	return carrier.Area{
		Name:    "Teststad",
		Center:  orb.Point{5.1, 52.1},
		RadiusM: 15000,
		BBox:    orb.Bound{Min: orb.Point{5.0, 52.0}, Max: orb.Point{5.2, 52.2}},
	}
}

func TestCachedSource_ServesFromFile(t *testing.T) {
	path := cachefile.PathFor(t.TempDir(), model.CarrierDHL)
	require.NoError(t, cachefile.Write(path, &cachefile.File{
		Metadata: cachefile.Metadata{Carrier: model.CarrierDHL, Method: cachefile.MethodGrid},
		Locations: []model.Location{
			loc(model.CarrierDHL, "near", 5.11, 52.11),
			loc(model.CarrierDHL, "far", 6.5, 53.2),
		},
	}))

	fallback := &fakeAreaFetcher{carrier: model.CarrierDHL}
	src := NewCachedSource(model.CarrierDHL, path, 0, NewLiveSource(fallback, nil))

	for i := 0; i < 2; i++ {
		locs, origin, err := src.Locations(context.Background(), testArea())
		require.NoError(t, err)
		assert.Equal(t, OriginCache, origin)
		require.Len(t, locs, 1)
		assert.Equal(t, "near", locs[0].Name)
	}
	assert.Zero(t, fallback.calls.Load())
}

func TestCachedSource_FallsBackWhenMissing(t *testing.T) {
	fallback := &fakeAreaFetcher{carrier: model.CarrierDPD, locs: []model.Location{loc(model.CarrierDPD, "kiosk", 5.1, 52.1)}}
	src := NewCachedSource(model.CarrierDPD, filepath.Join(t.TempDir(), "dpd_all_locations.json"), time.Hour, NewLiveSource(fallback, nil))

	locs, origin, err := src.Locations(context.Background(), testArea())
	require.NoError(t, err)
	assert.Equal(t, OriginFallback, origin)
	assert.Len(t, locs, 1)
	assert.Equal(t, int32(1), fallback.calls.Load())
}

func TestCachedSource_NoFallback(t *testing.T) {
	src := NewCachedSource(model.CarrierAmazon, filepath.Join(t.TempDir(), "amazon_all_locations.json"), 0, nil)
	_, _, err := src.Locations(context.Background(), testArea())
	assert.Error(t, err)
}

func TestLiveSource_WaitsOnSharedLimiter(t *testing.T) {
	f := &fakeAreaFetcher{carrier: model.CarrierPostNL}
	limiter := rate.NewLimiter(rate.Every(50*time.Millisecond), 1)
	a, b := NewLiveSource(f, limiter), NewLiveSource(f, limiter)

	start := time.Now()
	for i := 0; i < 2; i++ {
		_, origin, err := a.Locations(context.Background(), testArea())
		require.NoError(t, err)
		assert.Equal(t, OriginLive, origin)
		_, _, err = b.Locations(context.Background(), testArea())
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 140*time.Millisecond)
	assert.Equal(t, int32(4), f.calls.Load())
}

func TestLiveSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := NewLiveSource(&fakeAreaFetcher{carrier: model.CarrierPostNL}, rate.NewLimiter(rate.Every(time.Hour), 1))
	_, _, err := src.Locations(ctx, testArea())
	assert.Error(t, err)
}
