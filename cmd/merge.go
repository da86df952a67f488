package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geodekking/pakketpunten/internal/merge"
	"github.com/geodekking/pakketpunten/internal/model"
	"github.com/geodekking/pakketpunten/internal/municipality"
	"github.com/geodekking/pakketpunten/internal/store"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Combine the municipality files into nederland.geojson",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := runMerge(ctx, env)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "merged %d municipalities: %d unique points from %d, %d skipped, %d stale\n",
			len(res.Processed), len(res.Collection.Features), res.InputPoints, len(res.Skipped), len(res.Stale))
		for _, s := range res.Skipped {
			fmt.Fprintf(os.Stdout, "  skipped %s: %s\n", s.File, s.Reason)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)
}

// runMerge writes the national files from the municipality files in the
// output directory and records a merge run.
func runMerge(ctx context.Context, env *pipelineEnv) (*merge.Result, error) {
	if err := cfg.Validate("merge"); err != nil {
		return nil, err
	}
	run := startRun(ctx, env.Store, model.RunKindMerge)

	res, err := merge.Merge(cfg.Data.OutputDir, time.Now(), mergeOptions(ctx, env.Store))
	if err == nil {
		err = merge.Write(cfg.Data.OutputDir, res)
	}
	if err != nil {
		finishRun(ctx, env.Store, run, store.RunOutcome{Status: model.RunStatusFailed, Error: err.Error()})
		return nil, err
	}

	env.Metrics.ObserveMerge(res)
	if err := env.Metrics.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
		zap.L().Warn("write metrics textfile failed", zap.Error(err))
	}

	status := model.RunStatusComplete
	if len(res.Skipped) > 0 || len(res.Stale) > 0 {
		status = model.RunStatusCompleteWithFails
	}
	finishRun(ctx, env.Store, run, store.RunOutcome{
		Status:        status,
		Succeeded:     len(res.Processed),
		Failed:        len(res.Skipped),
		CarrierTotals: res.ProviderStats,
	})
	return res, nil
}

// mergeOptions lists the configured municipalities so missing files are
// reported, and dates the last full generate run so stale files are.
func mergeOptions(ctx context.Context, st store.Store) merge.Options {
	log := zap.L().With(zap.String("component", "merge"))
	var opts merge.Options

	list, err := municipality.Load(cfg.Data.MunicipalitiesFile)
	if err != nil {
		log.Warn("municipality list unavailable, missing files are not reported", zap.Error(err))
	} else {
		for _, m := range list {
			opts.Expected = append(opts.Expected, m.Slug)
		}
	}

	if st != nil {
		prev, ok, err := st.PreviousRun(ctx, model.RunKindGenerate, "")
		switch {
		case err != nil:
			log.Warn("look up last generate run failed", zap.Error(err))
		case ok:
			opts.StaleBefore = prev.StartedAt
		}
	}
	return opts
}
