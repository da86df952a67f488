package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geodekking/pakketpunten/internal/carrier"
	"github.com/geodekking/pakketpunten/internal/model"
	"github.com/geodekking/pakketpunten/internal/resilience"
)

// stepResult is the outcome of one weekly workflow step.
type stepResult struct {
	Name     string
	Err      error
	Skipped  bool
	Duration time.Duration
}

var weeklyCmd = &cobra.Command{
	Use:   "weekly",
	Short: "Refresh the cache files, regenerate every municipality and merge",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		steps, err := runWeekly(ctx, env)
		printSteps(os.Stdout, steps)
		return err
	},
}

func init() {
	rootCmd.AddCommand(weeklyCmd)
}

// weeklyStep is one unit of the workflow. A nil step function marks the
// step as skipped.
type weeklyStep struct {
	name     string
	critical bool
	run      func(context.Context) error
}

// runWeekly runs grid fetch, dumps, generate and merge in order. A failing
// cache refresh leaves the previous cache file in place and the workflow
// continues; a fatal error stops it.
func runWeekly(ctx context.Context, env *pipelineEnv) ([]stepResult, error) {
	log := zap.L().With(zap.String("component", "weekly"))

	var partial bool
	steps := weeklySteps(env, &partial)

	results := make([]stepResult, 0, len(steps))
	var criticalFailed bool
	for _, s := range steps {
		if s.run == nil {
			results = append(results, stepResult{Name: s.name, Skipped: true})
			continue
		}
		log.Info("step started", zap.String("step", s.name))
		start := time.Now()
		err := s.run(ctx)
		res := stepResult{Name: s.name, Err: err, Duration: time.Since(start)}
		results = append(results, res)
		if err == nil {
			log.Info("step complete", zap.String("step", s.name), zap.Duration("duration", res.Duration))
			continue
		}
		if resilience.IsFatal(err) || ctx.Err() != nil {
			log.Error("step aborted workflow", zap.String("step", s.name), zap.Error(err))
			return results, err
		}
		log.Error("step failed, continuing", zap.String("step", s.name), zap.Error(err))
		if s.critical {
			criticalFailed = true
		}
	}

	switch {
	case criticalFailed:
		return results, &exitError{code: exitFailure, msg: "weekly update completed with errors"}
	case partial:
		return results, &exitError{code: exitPartialFails, msg: "weekly update completed with failed municipalities"}
	}
	return results, nil
}

func weeklySteps(env *pipelineEnv, partial *bool) []weeklyStep {
	var steps []weeklyStep

	gridName := "grid"
	if cfg.Grid.Carrier != "" {
		gridName += " " + cfg.Grid.Carrier
	}
	if cc, ok := cfg.Carrier(cfg.Grid.Carrier); ok && cc.Enabled {
		steps = append(steps, weeklyStep{name: gridName, run: func(ctx context.Context) error {
			_, err := runGridFetch(ctx, env)
			return err
		}})
	} else {
		steps = append(steps, weeklyStep{name: gridName})
	}

	for _, a := range env.Carriers.All() {
		key := a.Carrier().Key()
		if key == cfg.Grid.Carrier || !cfg.Carriers[key].Cached {
			continue
		}
		if _, ok := a.(carrier.NationwideSource); !ok {
			continue
		}
		steps = append(steps, weeklyStep{name: "dump " + key, run: func(ctx context.Context) error {
			_, err := runDump(ctx, env, key)
			return err
		}})
	}

	steps = append(steps,
		weeklyStep{name: "generate", critical: true, run: func(ctx context.Context) error {
			summary, err := runGenerate(ctx, env, nil)
			if err != nil {
				return err
			}
			switch summary.Status() {
			case model.RunStatusFailed:
				return statusError(summary)
			case model.RunStatusCompleteWithFails:
				*partial = true
			}
			return nil
		}},
		weeklyStep{name: "merge", critical: true, run: func(ctx context.Context) error {
			_, err := runMerge(ctx, env)
			return err
		}},
	)
	return steps
}

// printSteps writes one line per workflow step.
func printSteps(out io.Writer, steps []stepResult) {
	ok := color.New(color.FgGreen)
	bad := color.New(color.FgRed)
	skip := color.New(color.FgYellow)

	_, _ = fmt.Fprintln(out, "\nWeekly update:")
	for _, s := range steps {
		switch {
		case s.Skipped:
			_, _ = skip.Fprintf(out, "  %-16s skipped\n", s.Name)
		case s.Err != nil:
			_, _ = bad.Fprintf(out, "  %-16s failed: %v\n", s.Name, s.Err)
		default:
			_, _ = ok.Fprintf(out, "  %-16s ok (%s)\n", s.Name, s.Duration.Round(time.Second))
		}
	}
}
