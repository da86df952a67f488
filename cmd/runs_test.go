package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geodekking/pakketpunten/internal/config"
	"github.com/geodekking/pakketpunten/internal/model"
	"github.com/geodekking/pakketpunten/internal/store"
)

func finishedAt(t time.Time) *time.Time { return &t }

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:            "abc12345-6789-0000-0000-000000000000",
			Kind:          model.RunKindGenerate,
			Status:        model.RunStatusCompleteWithFails,
			Succeeded:     340,
			Failed:        2,
			StartedAt:     now,
			FinishedAt:    finishedAt(now.Add(42 * time.Minute)),
			CarrierTotals: map[model.Carrier]int{model.CarrierDPD: 64, model.CarrierDHL: 812},
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Kind:      model.RunKindGrid,
			Status:    model.RunStatusRunning,
			StartedAt: now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	out := buf.String()
	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "CARRIERS")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "complete_with_failures")
	assert.Contains(t, out, "42m0s")
	assert.Contains(t, out, "DHL=812 DPD=64")
	assert.Contains(t, out, "2026-10-19 07:00")
	assert.Contains(t, out, "running")
}

func TestFormatTotals(t *testing.T) {
	assert.Equal(t, "-", formatTotals(nil))
	assert.Equal(t, "PostNL=3 VintedGo=1", formatTotals(map[model.Carrier]int{
		model.CarrierVintedGo: 1,
		model.CarrierPostNL:   3,
	}))
}

func TestComputeRunStats(t *testing.T) {
	now := time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)
	runs := []model.Run{
		{Status: model.RunStatusComplete, StartedAt: now, FinishedAt: finishedAt(now.Add(10 * time.Second))},
		{Status: model.RunStatusCompleteWithFails, StartedAt: now, FinishedAt: finishedAt(now.Add(30 * time.Second))},
		{Status: model.RunStatusFailed, StartedAt: now, FinishedAt: finishedAt(now.Add(time.Hour))},
		{Status: model.RunStatusRunning, StartedAt: now},
	}

	s := computeRunStats(runs)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.Complete)
	assert.Equal(t, 1, s.WithFailures)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Running)
	assert.InDelta(t, 20.0, s.AvgDurSecs, 1e-9)

	var buf bytes.Buffer
	formatRunStats(&buf, s)
	assert.Contains(t, buf.String(), "Avg duration:")
	assert.Contains(t, buf.String(), "20.0s")
}

func TestStartedAfter(t *testing.T) {
	now := time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)
	runs := []model.Run{{ID: "old", StartedAt: now.Add(-48 * time.Hour)}, {ID: "new", StartedAt: now}}
	got := startedAfter(runs, now.Add(-time.Hour))
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
	assert.Len(t, runs, 2)
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestInitStore_CreatesDirAndMigrates(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Path: filepath.Join(t.TempDir(), "nested", "runs.db")}}
	ctx := context.Background()

	st, err := initStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	run, err := st.CreateRun(ctx, model.RunKindMerge)
	require.NoError(t, err)
	require.NoError(t, st.FinishRun(ctx, run.ID, store.RunOutcome{Status: model.RunStatusComplete, Succeeded: 3}))

	runs, err := st.ListRuns(ctx, store.RunFilter{Kind: model.RunKindMerge})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].Succeeded)
}

func TestInitStore_RequiresPath(t *testing.T) {
	cfg = &config.Config{}
	_, err := initStore(context.Background())
	assert.Error(t, err)
}
