package aggregate

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/paulmach/orb"

	"github.com/geodekking/pakketpunten/internal/boundary"
	"github.com/geodekking/pakketpunten/internal/carrier"
	"github.com/geodekking/pakketpunten/internal/model"
	"github.com/geodekking/pakketpunten/internal/municipality"
)

// lShape covers 5.0–5.2 x 52.0–52.2 without its north-east quarter.
func lShape() orb.MultiPolygon {
	return orb.MultiPolygon{{{
		{5.0, 52.0}, {5.2, 52.0}, {5.2, 52.1}, {5.1, 52.1}, {5.1, 52.2}, {5.0, 52.2}, {5.0, 52.0},
	}}}
}

type fakeResolver struct {
	polys map[string]orb.MultiPolygon
	errs  map[string]error
}

func (r *fakeResolver) Resolve(_ context.Context, m municipality.Municipality) (*boundary.Boundary, error) {
	if err, ok := r.errs[m.Slug]; ok {
		return nil, err
	}
	poly, ok := r.polys[m.Slug]
	if !ok {
		return nil, boundary.ErrNotFound
	}
	return boundary.New(m, poly)
}

type fakeSource struct {
	carrier model.Carrier
	locs    []model.Location
	err     error
	calls   atomic.Int32
}

func (s *fakeSource) Carrier() model.Carrier { return s.carrier }

func (s *fakeSource) Locations(_ context.Context, _ carrier.Area) ([]model.Location, string, error) {
	s.calls.Add(1)
	return s.locs, OriginLive, s.err
}

type fakeAreaFetcher struct {
	carrier model.Carrier
	locs    []model.Location
	calls   atomic.Int32
}

func (f *fakeAreaFetcher) Carrier() model.Carrier { return f.carrier }

func (f *fakeAreaFetcher) FetchArea(_ context.Context, _ carrier.Area) ([]model.Location, error) {
	f.calls.Add(1)
	return f.locs, nil
}

func loc(c model.Carrier, name string, lon, lat float64) model.Location {
	return model.Location{Carrier: c, Name: name, Latitude: lat, Longitude: lon, PointType: "shop"}
}

var nan = math.NaN()
