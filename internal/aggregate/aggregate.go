// Package aggregate builds the output file of one municipality: resolve
// the boundary, collect every carrier's points, filter them by the exact
// boundary, buffer them and write the GeoJSON.
package aggregate

import (
	"context"
	"path/filepath"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geodekking/pakketpunten/internal/boundary"
	"github.com/geodekking/pakketpunten/internal/carrier"
	"github.com/geodekking/pakketpunten/internal/geo"
	"github.com/geodekking/pakketpunten/internal/model"
	"github.com/geodekking/pakketpunten/internal/municipality"
	"github.com/geodekking/pakketpunten/internal/output"
	"github.com/geodekking/pakketpunten/internal/resilience"
)

// ErrNoData is returned when no carrier has a point inside the boundary.
var ErrNoData = eris.New("aggregate: no pickup points found")

// Options configures an Aggregator.
type Options struct {
	OutputDir    string
	BufferRadiiM []float64
	// Segments is the number of vertices per buffer circle.
	Segments int
	Now      func() time.Time
}

// Result is the outcome of one municipality.
type Result struct {
	Gemeente      string                                 `json:"gemeente"`
	Slug          string                                 `json:"slug"`
	Code          string                                 `json:"code,omitempty"`
	Success       bool                                   `json:"success"`
	Error         string                                 `json:"error,omitempty"`
	Count         int                                    `json:"count"`
	Path          string                                 `json:"path,omitempty"`
	AreaKm2       float64                                `json:"area_km2,omitempty"`
	CarrierStatus map[model.Carrier]output.CarrierStatus `json:"carrier_status"`
	Filter        geo.FilterStats                        `json:"filter"`
	DurationMs    int64                                  `json:"duration_ms"`
	GeneratedAt   time.Time                              `json:"generated_at"`
}

// Aggregator produces municipality files.
type Aggregator struct {
	resolver boundary.Resolver
	sources  []Source
	breakers *resilience.CarrierBreakers
	opts     Options
}

// New creates an Aggregator. breakers may be shared across aggregators so
// a failing carrier is skipped for the rest of a batch.
func New(resolver boundary.Resolver, sources []Source, breakers *resilience.CarrierBreakers, opts Options) *Aggregator {
	if breakers == nil {
		breakers = resilience.NewCarrierBreakers(resilience.DefaultCircuitBreakerConfig())
	}
	if opts.Segments <= 0 {
		opts.Segments = geo.DefaultSegments
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{resolver: resolver, sources: sources, breakers: breakers, opts: opts}
}

// Run builds and writes the file of m. The returned Result is never nil.
// An error means the municipality failed; resilience.IsFatal tells whether
// the whole batch must stop.
func (a *Aggregator) Run(ctx context.Context, m municipality.Municipality) (*Result, error) {
	start := a.opts.Now()
	log := zap.L().With(zap.String("component", "aggregate"), zap.String("gemeente", m.Name))
	result := &Result{
		Gemeente:      m.Name,
		Slug:          m.Slug,
		Code:          m.Code,
		CarrierStatus: make(map[model.Carrier]output.CarrierStatus),
		GeneratedAt:   start.UTC(),
	}
	fail := func(err error) (*Result, error) {
		result.Error = err.Error()
		result.DurationMs = a.opts.Now().Sub(start).Milliseconds()
		log.Error("municipality failed", zap.Error(err))
		return result, err
	}

	b, err := a.resolver.Resolve(ctx, m)
	if err != nil {
		return fail(eris.Wrapf(err, "aggregate: resolve boundary of %s", m.Name))
	}
	if b.Code != "" && result.Code == "" {
		result.Code = b.Code
	}
	result.AreaKm2 = b.AreaKm2()

	area := carrier.Area{Name: m.Name, Center: b.Center, RadiusM: b.RadiusM, BBox: b.BBox}
	set := model.NewDedupSet()
	for _, src := range a.sources {
		c := src.Carrier()
		var origin string
		locs, err := resilience.ExecuteVal(ctx, a.breakers.Get(c.Key()),
			func(ctx context.Context) ([]model.Location, error) {
				locs, o, err := src.Locations(ctx, area)
				origin = o
				return locs, err
			})
		if err != nil {
			if resilience.IsFatal(err) || ctx.Err() != nil {
				return fail(eris.Wrapf(err, "aggregate: carrier %s", c))
			}
			result.CarrierStatus[c] = output.CarrierStatus{Success: false, Error: err.Error()}
			log.Warn("carrier failed", zap.String("carrier", string(c)), zap.Error(err))
			continue
		}
		set.AddAll(sanitize(locs, c, log))
		result.CarrierStatus[c] = output.CarrierStatus{Success: true, Source: origin}
	}

	kept, stats := geo.FilterByBoundary(set.Locations(), b.BBox, b.Polygon)
	result.Filter = stats
	result.Count = len(kept)
	perCarrier := make(map[model.Carrier]int)
	for _, l := range kept {
		perCarrier[l.Carrier]++
	}
	for c, st := range result.CarrierStatus {
		if st.Success {
			st.Count = perCarrier[c]
			result.CarrierStatus[c] = st
		}
	}
	if len(kept) == 0 {
		return fail(eris.Wrapf(ErrNoData, "%s", m.Name))
	}

	fc, err := a.collection(b, kept, result)
	if err != nil {
		return fail(err)
	}
	path := filepath.Join(a.opts.OutputDir, output.FileName(m.Slug))
	if err := output.Write(path, fc); err != nil {
		return fail(eris.Wrapf(err, "aggregate: write %s", m.Slug))
	}

	result.Success = true
	result.Path = path
	result.DurationMs = a.opts.Now().Sub(start).Milliseconds()
	log.Info("municipality complete",
		zap.Int("points", result.Count),
		zap.Int("outside_bbox", stats.OutsideBBox),
		zap.Int("outside_polygon", stats.OutsidePolygon),
		zap.Int64("duration_ms", result.DurationMs),
	)
	return result, nil
}

func (a *Aggregator) collection(b *boundary.Boundary, kept []model.Location, result *Result) (*geojson.FeatureCollection, error) {
	points := make([]orb.Point, len(kept))
	features := make([]*geojson.Feature, 0, len(kept)+len(a.opts.BufferRadiiM)+1)
	for i, l := range kept {
		points[i] = l.Point()
		features = append(features, output.PointFeature(l))
	}

	proj := geo.NewProjection(b.Center)
	for _, r := range a.opts.BufferRadiiM {
		mp, err := geo.BufferUnionWith(proj, points, r, a.opts.Segments)
		if err != nil {
			return nil, eris.Wrapf(err, "aggregate: buffer %s at %.0fm", b.Name, r)
		}
		features = append(features, output.BufferFeature(r, mp))
	}
	features = append(features, output.BoundaryFeature(result.Gemeente, b.Polygon))

	meta := output.Metadata{
		Gemeente:      result.Gemeente,
		Slug:          result.Slug,
		Code:          result.Code,
		GeneratedAt:   result.GeneratedAt,
		TotalPoints:   len(kept),
		Providers:     providers(kept),
		Bounds:        output.Bounds(kept),
		AreaKm2:       result.AreaKm2,
		BufferRadiiM:  a.opts.BufferRadiiM,
		CarrierStatus: result.CarrierStatus,
	}
	return output.NewCollection(meta, features...), nil
}

// sanitize stamps the carrier and drops locations failing Validate.
func sanitize(locs []model.Location, c model.Carrier, log *zap.Logger) []model.Location {
	out := make([]model.Location, 0, len(locs))
	var dropped int
	for _, l := range locs {
		if l.Carrier == "" {
			l.Carrier = c
		}
		if err := l.Validate(); err != nil {
			dropped++
			continue
		}
		out = append(out, l)
	}
	if dropped > 0 {
		log.Warn("invalid locations dropped", zap.String("carrier", string(c)), zap.Int("count", dropped))
	}
	return out
}

// providers lists the carriers present in locs in output order.
func providers(locs []model.Location) []string {
	seen := make(map[model.Carrier]bool)
	for _, l := range locs {
		seen[l.Carrier] = true
	}
	var out []string
	for _, c := range model.AllCarriers() {
		if seen[c] {
			out = append(out, string(c))
		}
	}
	return out
}
