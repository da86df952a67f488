// Package batch runs the aggregator over a list of municipalities and
// summarises the outcome per municipality and per carrier.
package batch

import (
	"context"
	"encoding/json"
	"math"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/geodekking/pakketpunten/internal/aggregate"
	"github.com/geodekking/pakketpunten/internal/model"
	"github.com/geodekking/pakketpunten/internal/municipality"
	"github.com/geodekking/pakketpunten/internal/output"
	"github.com/geodekking/pakketpunten/internal/resilience"
)

// Aggregator builds the file of one municipality.
type Aggregator interface {
	Run(ctx context.Context, m municipality.Municipality) (*aggregate.Result, error)
}

// Options configures a Runner.
type Options struct {
	// Concurrency is the number of municipalities processed at once.
	Concurrency int
	// Carriers lists the carriers reported in the summary.
	Carriers []model.Carrier
	// OnResult is called after every municipality, from the worker
	// goroutines when Concurrency > 1.
	OnResult func(*aggregate.Result)
	Now      func() time.Time
}

// Runner processes municipalities.
type Runner struct {
	agg  Aggregator
	opts Options
}

// NewRunner creates a batch runner.
func NewRunner(agg Aggregator, opts Options) *Runner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if len(opts.Carriers) == 0 {
		opts.Carriers = model.AllCarriers()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{agg: agg, opts: opts}
}

// Run processes every municipality. Individual failures are recorded in
// the summary. A fatal error stops the batch and is returned together with
// the summary of what completed.
func (r *Runner) Run(ctx context.Context, ms []municipality.Municipality) (*Summary, error) {
	log := zap.L().With(zap.String("component", "batch"))
	log.Info("batch started", zap.Int("municipalities", len(ms)), zap.Int("concurrency", r.opts.Concurrency))
	started := r.opts.Now()

	results := make([]*aggregate.Result, len(ms))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)

	for i, m := range ms {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := r.agg.Run(gctx, m)
			if res == nil {
				res = &aggregate.Result{Gemeente: m.Name, Slug: m.Slug}
			}
			if err != nil {
				res.Success = false
				res.Error = err.Error()
			}
			results[i] = res
			if r.opts.OnResult != nil {
				r.opts.OnResult(res)
			}
			n := done.Add(1)
			log.Info("municipality processed",
				zap.Int64("done", n),
				zap.Int("total", len(ms)),
				zap.String("gemeente", m.Name),
				zap.Bool("success", err == nil),
				zap.Int("points", res.Count),
			)
			if err != nil && resilience.IsFatal(err) {
				return eris.Wrapf(err, "batch: aborted at %s", m.Name)
			}
			return nil
		})
	}
	runErr := g.Wait()

	completed := make([]aggregate.Result, 0, len(results))
	for _, res := range results {
		if res != nil {
			completed = append(completed, *res)
		}
	}
	s := Summarize(completed, r.opts.Carriers, r.opts.Now())
	s.StartedAt = started
	if runErr != nil {
		s.Aborted = runErr.Error()
		log.Error("batch aborted", zap.Error(runErr))
		return s, runErr
	}
	if err := ctx.Err(); err != nil {
		s.Aborted = err.Error()
		return s, eris.Wrap(err, "batch: cancelled")
	}
	log.Info("batch complete",
		zap.Int("succeeded", s.Successful),
		zap.Int("failed", s.Failed),
		zap.Int("points", s.TotalPoints),
	)
	return s, nil
}

// CarrierStats aggregates one carrier over a batch.
type CarrierStats struct {
	SuccessfulMunicipalities int        `json:"successful_municipalities"`
	FailedMunicipalities     int        `json:"failed_municipalities"`
	TotalPoints              int        `json:"total_points"`
	LatestUpdate             *time.Time `json:"latest_update,omitempty"`
	SuccessRate              float64    `json:"overall_success_rate"`
}

// Summary is written to summary.json after every batch.
type Summary struct {
	StartedAt            time.Time                      `json:"started_at"`
	GeneratedAt          time.Time                      `json:"generated_at"`
	TotalMunicipalities  int                            `json:"total_municipalities"`
	Successful           int                            `json:"successful"`
	Failed               int                            `json:"failed"`
	FailedMunicipalities []string                       `json:"failed_municipalities"`
	TotalPoints          int                            `json:"total_points"`
	CarrierStats         map[model.Carrier]CarrierStats `json:"carrier_stats"`
	Aborted              string                         `json:"aborted,omitempty"`
	Results              []aggregate.Result             `json:"results"`
}

// Summarize computes the summary of results. A carrier counts as failed in
// every municipality that failed as a whole or where it reported failure.
func Summarize(results []aggregate.Result, carriers []model.Carrier, now time.Time) *Summary {
	s := &Summary{
		GeneratedAt:          now.UTC(),
		TotalMunicipalities:  len(results),
		FailedMunicipalities: []string{},
		CarrierStats:         make(map[model.Carrier]CarrierStats, len(carriers)),
		Results:              results,
	}
	for _, res := range results {
		if res.Success {
			s.Successful++
			s.TotalPoints += res.Count
		} else {
			s.Failed++
			s.FailedMunicipalities = append(s.FailedMunicipalities, res.Gemeente)
		}
	}

	for _, c := range carriers {
		var cs CarrierStats
		for _, res := range results {
			st, ok := res.CarrierStatus[c]
			if !res.Success || !ok || !st.Success {
				cs.FailedMunicipalities++
				continue
			}
			cs.SuccessfulMunicipalities++
			cs.TotalPoints += st.Count
			if gen := res.GeneratedAt; !gen.IsZero() && (cs.LatestUpdate == nil || gen.After(*cs.LatestUpdate)) {
				cs.LatestUpdate = &gen
			}
		}
		if len(results) > 0 {
			cs.SuccessRate = math.Round(float64(cs.SuccessfulMunicipalities)/float64(len(results))*1000) / 10
		}
		s.CarrierStats[c] = cs
	}
	return s
}

// Status maps the summary onto a run status.
func (s *Summary) Status() model.RunStatus {
	switch {
	case s.Aborted != "":
		return model.RunStatusFailed
	case s.TotalMunicipalities > 0 && s.Successful == 0:
		return model.RunStatusFailed
	case s.Failed > 0:
		return model.RunStatusCompleteWithFails
	default:
		return model.RunStatusComplete
	}
}

// CarrierTotals returns the number of points per carrier over all
// successful municipalities.
func (s *Summary) CarrierTotals() map[model.Carrier]int {
	out := make(map[model.Carrier]int, len(s.CarrierStats))
	for c, cs := range s.CarrierStats {
		out[c] = cs.TotalPoints
	}
	return out
}

// WriteSummary stores s as indented JSON at path.
func WriteSummary(path string, s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return eris.Wrap(err, "batch: marshal summary")
	}
	if err := output.WriteAtomic(path, data); err != nil {
		return eris.Wrap(err, "batch: write summary")
	}
	return nil
}
