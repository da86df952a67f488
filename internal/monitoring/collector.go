package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/geodekking/pakketpunten/internal/model"
	"github.com/geodekking/pakketpunten/internal/store"
)

// Snapshot compares a finished run with the previous comparable one.
type Snapshot struct {
	RunID          string                `json:"run_id"`
	Kind           model.RunKind         `json:"kind"`
	Succeeded      int                   `json:"succeeded"`
	Failed         int                   `json:"failed"`
	FailRate       float64               `json:"fail_rate"`
	CarrierTotals  map[model.Carrier]int `json:"carrier_totals"`
	PreviousRunID  string                `json:"previous_run_id,omitempty"`
	PreviousTotals map[model.Carrier]int `json:"previous_totals,omitempty"`
	CollectedAt    time.Time             `json:"collected_at"`
}

// Collector reads runs from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new run collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect builds the snapshot of runID. PreviousTotals is empty on the
// first run of its kind.
func (c *Collector) Collect(ctx context.Context, runID string) (*Snapshot, error) {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "monitoring: get run %s", runID)
	}

	snap := &Snapshot{
		RunID:         run.ID,
		Kind:          run.Kind,
		Succeeded:     run.Succeeded,
		Failed:        run.Failed,
		CarrierTotals: run.CarrierTotals,
		CollectedAt:   time.Now().UTC(),
	}
	if finished := run.Succeeded + run.Failed; finished > 0 {
		snap.FailRate = float64(run.Failed) / float64(finished)
	}

	prev, ok, err := c.store.PreviousRun(ctx, run.Kind, run.ID)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: previous run")
	}
	if ok {
		snap.PreviousRunID = prev.ID
		snap.PreviousTotals = prev.CarrierTotals
	}
	return snap, nil
}
