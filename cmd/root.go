package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geodekking/pakketpunten/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "pakketpunten",
	Short: "Parcel pickup point aggregation for Dutch municipalities",
	Long: "Fetches pickup points from DHL, PostNL, DPD, De Buren, VintedGo and Amazon, " +
		"filters them by municipality boundary, computes coverage buffers and publishes " +
		"per-municipality and national GeoJSON files.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// Exit codes. A batch that completed with failed municipalities is not a
// crash; schedulers can tell the two apart.
const (
	exitOK           = 0
	exitFailure      = 1
	exitPartialFails = 2
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailure
}

func main() {
	err := rootCmd.Execute()
	var ee *exitError
	if err != nil && !errors.As(err, &ee) {
		zap.L().Error("command failed", zap.Error(err))
	}
	os.Exit(exitCode(err))
}
