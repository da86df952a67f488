package gridfetch

import (
	"context"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/geodekking/pakketpunten/internal/carrier"
	"github.com/geodekking/pakketpunten/internal/model"
	"github.com/geodekking/pakketpunten/internal/resilience"
)

// Options configures a grid fetch.
type Options struct {
	Envelope orb.Bound
	RadiusM  float64
	SpacingM float64
	// MaxDepth bounds subdivision; depth-0 cells are the initial grid.
	MaxDepth int
	// MinRadiusM stops subdivision once children would be smaller.
	MinRadiusM float64
	// Cap is the result count at which a cell counts as saturated. Zero
	// uses the searcher's cap.
	Cap int
	// Delay is the minimum time between two searches.
	Delay time.Duration
	// OnCell is called after every search.
	OnCell func(CellResult)
}

// CellResult describes one completed search.
type CellResult struct {
	Cell      Cell
	Count     int
	New       int
	Saturated bool
	Err       error
}

// Stats counts what a grid fetch did.
type Stats struct {
	InitialCells int `json:"initial_cells"`
	APICalls     int `json:"api_calls"`
	Accepted     int `json:"accepted_cells"`
	Saturated    int `json:"saturated_cells"`
	Subdivided   int `json:"subdivided_cells"`
	Incomplete   int `json:"incomplete_cells"`
	Failed       int `json:"failed_cells"`
	MaxDepth     int `json:"max_depth_reached"`
	Unique       int `json:"unique_locations"`
}

// Report is the outcome of Run.
type Report struct {
	Locations []model.Location
	Stats     Stats
	// Incomplete holds saturated cells that could not be subdivided further.
	Incomplete []Cell
	// Failed holds cells whose search failed after retries.
	Failed []Cell
}

// Fetcher runs grid fetches against one capped circle-search carrier.
type Fetcher struct {
	searcher carrier.CircleSearcher
	opts     Options
	limiter  *rate.Limiter
	log      *zap.Logger
}

// New creates a grid fetcher.
func New(s carrier.CircleSearcher, opts Options) (*Fetcher, error) {
	if opts.Cap <= 0 {
		opts.Cap = s.Cap()
	}
	if opts.Cap <= 0 {
		return nil, eris.Errorf("gridfetch: carrier %s has no result cap", s.Carrier())
	}
	if opts.MaxDepth < 0 {
		return nil, eris.New("gridfetch: max depth must not be negative")
	}
	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}
	return &Fetcher{
		searcher: s,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
		log: zap.L().With(
			zap.String("component", "gridfetch"),
			zap.String("carrier", string(s.Carrier())),
		),
	}, nil
}

// Cap returns the saturation threshold in use.
func (f *Fetcher) Cap() int { return f.opts.Cap }

// Run searches every grid cell, subdividing saturated cells breadth-first
// through a FIFO queue. A failed search counts as an empty cell. Only
// context cancellation and configuration errors abort the run.
func (f *Fetcher) Run(ctx context.Context) (*Report, error) {
	cells, err := GenerateGrid(f.opts.Envelope, f.opts.RadiusM, f.opts.SpacingM)
	if err != nil {
		return nil, err
	}

	capN := f.opts.Cap
	set := model.NewDedupSet()
	report := &Report{Stats: Stats{InitialCells: len(cells)}}
	queue := cells

	f.log.Info("grid fetch started",
		zap.Int("cells", len(cells)),
		zap.Float64("radius_m", f.opts.RadiusM),
		zap.Float64("spacing_m", f.opts.SpacingM),
		zap.Int("cap", capN),
	)

	for len(queue) > 0 {
		cell := queue[0]
		queue = queue[1:]

		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "gridfetch: wait for rate limiter")
		}
		locs, err := f.searcher.SearchCircle(ctx, cell.Center, cell.RadiusM)
		report.Stats.APICalls++
		if cell.Depth > report.Stats.MaxDepth {
			report.Stats.MaxDepth = cell.Depth
		}

		res := CellResult{Cell: cell, Count: len(locs), Err: err}
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "gridfetch: cancelled")
			}
			if resilience.IsFatal(err) {
				return nil, eris.Wrap(err, "gridfetch: search")
			}
			report.Stats.Failed++
			report.Failed = append(report.Failed, cell)
			f.log.Warn("cell search failed, coverage gap recorded",
				zap.Float64("lat", cell.Center[1]),
				zap.Float64("lon", cell.Center[0]),
				zap.Float64("radius_m", cell.RadiusM),
				zap.Error(err),
			)
			f.notify(res)
			continue
		}

		res.New = set.AddAll(locs)
		if len(locs) < capN {
			report.Stats.Accepted++
			f.notify(res)
			continue
		}

		res.Saturated = true
		report.Stats.Saturated++
		if cell.Depth < f.opts.MaxDepth && cell.RadiusM/2 >= f.opts.MinRadiusM {
			children := Subdivide(cell)
			queue = append(queue, children[:]...)
			report.Stats.Subdivided++
			f.log.Debug("cell saturated, subdividing",
				zap.Float64("lat", cell.Center[1]),
				zap.Float64("lon", cell.Center[0]),
				zap.Int("depth", cell.Depth),
			)
		} else {
			report.Stats.Incomplete++
			report.Incomplete = append(report.Incomplete, cell)
			f.log.Warn("cell saturated at subdivision limit, coverage incomplete",
				zap.Float64("lat", cell.Center[1]),
				zap.Float64("lon", cell.Center[0]),
				zap.Float64("radius_m", cell.RadiusM),
				zap.Int("depth", cell.Depth),
			)
		}
		f.notify(res)
	}

	report.Locations = set.Locations()
	report.Stats.Unique = len(report.Locations)
	f.log.Info("grid fetch complete",
		zap.Int("unique", report.Stats.Unique),
		zap.Int("api_calls", report.Stats.APICalls),
		zap.Int("saturated", report.Stats.Saturated),
		zap.Int("incomplete", report.Stats.Incomplete),
		zap.Int("failed", report.Stats.Failed),
	)
	return report, nil
}

func (f *Fetcher) notify(res CellResult) {
	if f.opts.OnCell != nil {
		f.opts.OnCell(res)
	}
}
