package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/geodekking/pakketpunten/internal/aggregate"
	"github.com/geodekking/pakketpunten/internal/batch"
	"github.com/geodekking/pakketpunten/internal/cachefile"
	"github.com/geodekking/pakketpunten/internal/carrier"
	"github.com/geodekking/pakketpunten/internal/config"
	"github.com/geodekking/pakketpunten/internal/model"
	"github.com/geodekking/pakketpunten/internal/monitoring"
	"github.com/geodekking/pakketpunten/internal/municipality"
	"github.com/geodekking/pakketpunten/internal/resilience"
	"github.com/geodekking/pakketpunten/internal/store"
)

// cacheMaxAge is the age after which a cache file is reported as stale.
// The weekly workflow refreshes them every seven days.
const cacheMaxAge = 8 * 24 * time.Hour

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Build the GeoJSON file of every municipality and write summary.json",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		only, _ := cmd.Flags().GetStringSlice("only")
		if c, _ := cmd.Flags().GetInt("concurrency"); c > 0 {
			cfg.Batch.Concurrency = c
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := runGenerate(ctx, env, only)
		if summary != nil {
			printSummary(os.Stdout, summary)
		}
		if err != nil {
			return err
		}
		return statusError(summary)
	},
}

func init() {
	generateCmd.Flags().StringSlice("only", nil, "only these municipalities (slug, name or CBS code)")
	generateCmd.Flags().Int("concurrency", 0, "municipalities processed at once (default from batch.concurrency)")
	rootCmd.AddCommand(generateCmd)
}

// runGenerate runs the batch over the configured municipality list. The
// summary is returned whenever the batch started, also on a fatal error.
func runGenerate(ctx context.Context, env *pipelineEnv, only []string) (*batch.Summary, error) {
	if err := cfg.Validate("generate"); err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "generate"))

	list, err := municipality.Load(cfg.Data.MunicipalitiesFile)
	if err != nil {
		return nil, resilience.NewConfigError(err)
	}
	list, unknown := municipality.Filter(list, only)
	for _, k := range unknown {
		log.Warn("unknown municipality ignored", zap.String("name", k))
	}
	if len(list) == 0 {
		return nil, resilience.NewConfigError(eris.New("generate: no municipalities selected"))
	}

	resolver, err := boundaryResolver(env.Fetcher, env.Store)
	if err != nil {
		return nil, err
	}
	sources := buildSources(env.Carriers, cfg.Carriers, cfg.Data.CacheDir, time.Duration(cfg.Batch.DelayMs)*time.Millisecond)
	if len(sources) == 0 {
		return nil, resilience.NewConfigError(eris.New("generate: no usable carrier sources"))
	}
	carriers := make([]model.Carrier, len(sources))
	for i, s := range sources {
		carriers[i] = s.Carrier()
	}

	agg := aggregate.New(resolver, sources, resilience.NewCarrierBreakers(circuitConfig()), aggregate.Options{
		OutputDir:    cfg.Data.OutputDir,
		BufferRadiiM: cfg.Batch.BufferRadiiM,
	})
	runner := batch.NewRunner(agg, batch.Options{
		Concurrency: cfg.Batch.Concurrency,
		Carriers:    carriers,
		OnResult:    env.Metrics.ObserveMunicipality,
	})

	run := startRun(ctx, env.Store, model.RunKindGenerate)
	summary, runErr := runner.Run(ctx, list)

	if err := batch.WriteSummary(filepath.Join(cfg.Data.OutputDir, cfg.Batch.SummaryFile), summary); err != nil {
		log.Error("write summary failed", zap.Error(err))
	}
	env.Metrics.ObserveSummary(summary)
	if err := env.Metrics.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
		log.Warn("write metrics textfile failed", zap.Error(err))
	}

	outcome := store.RunOutcome{
		Status:        summary.Status(),
		Succeeded:     summary.Successful,
		Failed:        summary.Failed,
		CarrierTotals: summary.CarrierTotals(),
		Error:         summary.Aborted,
	}
	// A partial batch or an --only subset is no baseline for the next run,
	// and is not compared against the last full one.
	subset := len(only) > 0
	if summary.Aborted != "" || subset {
		outcome.CarrierTotals = nil
	}
	finishRun(ctx, env.Store, run, outcome)

	if subset {
		log.Info("subset run, drop alerts skipped", zap.Int("municipalities", len(list)))
	}
	if runErr == nil && !subset && env.Store != nil && run != nil {
		checker := monitoring.NewChecker(monitoring.NewCollector(env.Store), monitoring.NewAlerter(cfg.Monitoring))
		checker.Check(context.WithoutCancel(ctx), run.ID)
	}
	return summary, runErr
}

// buildSources turns the enabled adapters into aggregator sources. Carriers
// marked cached read their cache file and fall back to a live area query;
// live carriers share one limiter each so concurrent workers respect the
// minimum delay between calls collectively.
func buildSources(reg *carrier.Registry, ccs map[string]config.CarrierConfig, cacheDir string, delay time.Duration) []aggregate.Source {
	log := zap.L().With(zap.String("component", "generate"))
	var out []aggregate.Source
	for _, a := range reg.All() {
		c := a.Carrier()
		cc := ccs[c.Key()]

		var live *aggregate.LiveSource
		if af, ok := a.(carrier.AreaFetcher); ok {
			lim := rate.NewLimiter(rate.Inf, 1)
			if delay > 0 {
				lim = rate.NewLimiter(rate.Every(delay), 1)
			}
			live = aggregate.NewLiveSource(af, lim)
		}

		switch {
		case cc.Cached:
			path := cc.CacheFile
			if path == "" {
				path = cachefile.PathFor(cacheDir, c)
			}
			out = append(out, aggregate.NewCachedSource(c, path, cacheMaxAge, live))
		case live != nil:
			out = append(out, live)
		default:
			log.Warn("carrier has no area query and no cache, skipped", zap.String("carrier", string(c)))
		}
	}
	return out
}

// statusError maps a finished batch onto the process exit code.
func statusError(s *batch.Summary) error {
	switch s.Status() {
	case model.RunStatusFailed:
		return &exitError{code: exitFailure, msg: "every municipality failed"}
	case model.RunStatusCompleteWithFails:
		return &exitError{code: exitPartialFails, msg: fmt.Sprintf("completed with %d failures", s.Failed)}
	default:
		return nil
	}
}

// printSummary writes the per-carrier table and the failed municipalities.
func printSummary(out io.Writer, s *batch.Summary) {
	ok := color.New(color.FgGreen)
	bad := color.New(color.FgRed)
	warn := color.New(color.FgYellow)

	_, _ = fmt.Fprintf(out, "\nMunicipalities: %d total, ", s.TotalMunicipalities)
	_, _ = ok.Fprintf(out, "%d successful", s.Successful)
	_, _ = fmt.Fprint(out, ", ")
	if s.Failed > 0 {
		_, _ = bad.Fprintf(out, "%d failed", s.Failed)
	} else {
		_, _ = fmt.Fprint(out, "0 failed")
	}
	_, _ = fmt.Fprintf(out, ", %d points\n\n", s.TotalPoints)

	carriers := sortedCarriers(s.CarrierStats)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CARRIER\tOK\tFAILED\tPOINTS\tSUCCESS")
	for _, c := range carriers {
		cs := s.CarrierStats[c]
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f%%\n", c, cs.SuccessfulMunicipalities, cs.FailedMunicipalities, cs.TotalPoints, cs.SuccessRate)
	}
	_ = w.Flush()

	if len(s.FailedMunicipalities) > 0 {
		_, _ = warn.Fprintln(out, "\nFailed municipalities:")
		for _, name := range s.FailedMunicipalities {
			_, _ = fmt.Fprintf(out, "  - %s\n", name)
		}
	}
	if s.Aborted != "" {
		_, _ = bad.Fprintf(out, "\nAborted: %s\n", s.Aborted)
	}
}
