package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geodekking/pakketpunten/internal/cachefile"
	"github.com/geodekking/pakketpunten/internal/gridfetch"
	"github.com/geodekking/pakketpunten/internal/model"
	"github.com/geodekking/pakketpunten/internal/store"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Refresh the nationwide carrier cache files",
}

var fetchGridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Cover the Netherlands with capped circle searches and write the cache file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		name, _ := cmd.Flags().GetString("carrier")
		if name != "" {
			cfg.Grid.Carrier = name
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := runGridFetch(ctx, env)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s: %d unique locations, %d API calls, %d incomplete cells, %d failed cells\n",
			cfg.Grid.Carrier, report.Stats.Unique, report.Stats.APICalls, report.Stats.Incomplete, report.Stats.Failed)
		return env.Metrics.WriteTextfile(cfg.Metrics.TextfilePath)
	},
}

var fetchDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Download a carrier's nationwide location list and write the cache file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		name, _ := cmd.Flags().GetString("carrier")

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := runDump(ctx, env, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s: %d locations\n", name, n)
		return nil
	},
}

func init() {
	fetchGridCmd.Flags().String("carrier", "", "capped circle-search carrier (default from grid.carrier)")
	fetchDumpCmd.Flags().String("carrier", "dpd", "carrier with a nationwide dump (dpd, amazon, deburen)")

	fetchCmd.AddCommand(fetchGridCmd)
	fetchCmd.AddCommand(fetchDumpCmd)
	rootCmd.AddCommand(fetchCmd)
}

// runGridFetch runs the adaptive grid fetch for cfg.Grid.Carrier and
// writes its cache file. Coverage gaps are recorded in the file metadata.
func runGridFetch(ctx context.Context, env *pipelineEnv) (*gridfetch.Report, error) {
	if err := cfg.Validate("grid"); err != nil {
		return nil, err
	}
	searcher, err := env.Carriers.CircleSearcher(cfg.Grid.Carrier)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "fetch.grid"), zap.String("carrier", string(searcher.Carrier())))

	g := cfg.Grid
	envelope := orb.Bound{Min: orb.Point{g.MinLon, g.MinLat}, Max: orb.Point{g.MaxLon, g.MaxLat}}
	f, err := gridfetch.New(searcher, gridfetch.Options{
		Envelope:   envelope,
		RadiusM:    g.RadiusM,
		SpacingM:   g.SpacingM,
		MaxDepth:   g.MaxDepth,
		MinRadiusM: g.MinRadiusM,
		Cap:        g.Cap,
		Delay:      time.Duration(g.DelayMs) * time.Millisecond,
		OnCell:     env.Metrics.ObserveGridCell,
	})
	if err != nil {
		return nil, err
	}

	run := startRun(ctx, env.Store, model.RunKindGrid)
	report, err := f.Run(ctx)
	if err != nil {
		finishRun(ctx, env.Store, run, store.RunOutcome{Status: model.RunStatusFailed, Error: err.Error()})
		return nil, eris.Wrap(err, "fetch grid")
	}
	env.Metrics.ObserveGridReport(report)

	gaps := append(append([]gridfetch.Cell{}, report.Incomplete...), report.Failed...)
	file := &cachefile.File{
		Metadata: cachefile.Metadata{
			Carrier: searcher.Carrier(),
			Method:  cachefile.MethodGrid,
			Grid: &cachefile.GridMetadata{
				SpacingM: g.SpacingM,
				RadiusM:  g.RadiusM,
				Cap:      f.Cap(),
				MaxDepth: g.MaxDepth,
				Envelope: [4]float64{envelope.Min[0], envelope.Min[1], envelope.Max[0], envelope.Max[1]},
				Stats:    report.Stats,
				GapCells: gaps,
			},
		},
		Locations: report.Locations,
	}
	path := cachefile.PathFor(cfg.Data.CacheDir, searcher.Carrier())
	if err := cachefile.Write(path, file); err != nil {
		finishRun(ctx, env.Store, run, store.RunOutcome{Status: model.RunStatusFailed, Error: err.Error()})
		return nil, err
	}

	status := model.RunStatusComplete
	if len(gaps) > 0 {
		status = model.RunStatusCompleteWithFails
		log.Warn("grid fetch left coverage gaps", zap.Int("cells", len(gaps)))
	}
	finishRun(ctx, env.Store, run, store.RunOutcome{
		Status:        status,
		Succeeded:     report.Stats.Accepted,
		Failed:        len(gaps),
		CarrierTotals: map[model.Carrier]int{searcher.Carrier(): report.Stats.Unique},
	})
	log.Info("grid cache written", zap.String("path", path), zap.Int("locations", len(report.Locations)))
	return report, nil
}

// runDump downloads the nationwide list of carrier name into its cache file.
func runDump(ctx context.Context, env *pipelineEnv, name string) (int, error) {
	if err := cfg.Validate("dump"); err != nil {
		return 0, err
	}
	src, err := env.Carriers.NationwideSource(name)
	if err != nil {
		return 0, err
	}
	c := src.Carrier()
	log := zap.L().With(zap.String("component", "fetch.dump"), zap.String("carrier", string(c)))

	run := startRun(ctx, env.Store, model.RunKindDump)
	locs, err := src.FetchAll(ctx)
	if err == nil && len(locs) == 0 {
		// An empty dump would silently blank every municipality.
		err = eris.Errorf("fetch dump: %s returned no locations", c)
	}
	if err != nil {
		finishRun(ctx, env.Store, run, store.RunOutcome{Status: model.RunStatusFailed, Error: err.Error()})
		return 0, eris.Wrapf(err, "fetch dump %s", c)
	}

	locs = model.Dedup(locs)
	path := cachefile.PathFor(cfg.Data.CacheDir, c)
	file := &cachefile.File{
		Metadata:  cachefile.Metadata{Carrier: c, Method: cachefile.MethodDump},
		Locations: locs,
	}
	if err := cachefile.Write(path, file); err != nil {
		finishRun(ctx, env.Store, run, store.RunOutcome{Status: model.RunStatusFailed, Error: err.Error()})
		return 0, err
	}
	finishRun(ctx, env.Store, run, store.RunOutcome{
		Status:        model.RunStatusComplete,
		Succeeded:     1,
		CarrierTotals: map[model.Carrier]int{c: len(locs)},
	})
	log.Info("dump cache written", zap.String("path", path), zap.Int("locations", len(locs)))
	return len(locs), nil
}

// startRun records a run when a store is configured. Store failures are
// logged and never stop the pipeline.
func startRun(ctx context.Context, st store.Store, kind model.RunKind) *model.Run {
	if st == nil {
		return nil
	}
	run, err := st.CreateRun(ctx, kind)
	if err != nil {
		zap.L().Warn("record run failed", zap.String("kind", string(kind)), zap.Error(err))
		return nil
	}
	return run
}

func finishRun(ctx context.Context, st store.Store, run *model.Run, out store.RunOutcome) {
	if st == nil || run == nil {
		return
	}
	// The run is recorded even when ctx was cancelled.
	if err := st.FinishRun(context.WithoutCancel(ctx), run.ID, out); err != nil {
		zap.L().Warn("finish run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}
