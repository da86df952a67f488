package monitoring

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geodekking/pakketpunten/internal/model"
	"github.com/geodekking/pakketpunten/internal/store"
)

func newStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func finishedRun(t *testing.T, st store.Store, out store.RunOutcome) string {
	t.Helper()
	ctx := context.Background()
	run, err := st.CreateRun(ctx, model.RunKindGenerate)
	require.NoError(t, err)
	require.NoError(t, st.FinishRun(ctx, run.ID, out))
	return run.ID
}

func TestCollector_Collect_FirstRun(t *testing.T) {
	st := newStore(t)
	id := finishedRun(t, st, store.RunOutcome{
		Status:        model.RunStatusComplete,
		Succeeded:     3,
		CarrierTotals: map[model.Carrier]int{model.CarrierDHL: 30},
	})

	snap, err := NewCollector(st).Collect(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, snap.RunID)
	assert.Empty(t, snap.PreviousRunID)
	assert.Zero(t, snap.FailRate)
	assert.Equal(t, 30, snap.CarrierTotals[model.CarrierDHL])
}

func TestCollector_Collect_WithPrevious(t *testing.T) {
	st := newStore(t)
	prev := finishedRun(t, st, store.RunOutcome{
		Status:        model.RunStatusComplete,
		Succeeded:     4,
		CarrierTotals: map[model.Carrier]int{model.CarrierDHL: 100},
	})
	cur := finishedRun(t, st, store.RunOutcome{
		Status:        model.RunStatusCompleteWithFails,
		Succeeded:     3,
		Failed:        1,
		CarrierTotals: map[model.Carrier]int{model.CarrierDHL: 60},
	})

	snap, err := NewCollector(st).Collect(context.Background(), cur)
	require.NoError(t, err)
	assert.Equal(t, prev, snap.PreviousRunID)
	assert.Equal(t, 100, snap.PreviousTotals[model.CarrierDHL])
	assert.InDelta(t, 0.25, snap.FailRate, 1e-9)
}

func TestCollector_Collect_UnknownRun(t *testing.T) {
	_, err := NewCollector(newStore(t)).Collect(context.Background(), "missing")
	assert.Error(t, err)
}
