package monitoring

import (
	"context"

	"go.uber.org/zap"
)

// Checker evaluates a finished run and reports its alerts. Alerts never
// fail the run.
type Checker struct {
	collector *Collector
	alerter   *Alerter
}

// NewChecker creates a run checker.
func NewChecker(collector *Collector, alerter *Alerter) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
	}
}

// Check collects runID, logs every triggered alert and posts it to the
// webhook. It returns the alerts for the caller's summary.
func (c *Checker) Check(ctx context.Context, runID string) []Alert {
	log := zap.L().With(zap.String("component", "monitoring.checker"), zap.String("run_id", runID))

	snap, err := c.collector.Collect(ctx, runID)
	if err != nil {
		log.Error("monitoring: failed to collect run", zap.Error(err))
		return nil
	}
	if snap.PreviousRunID == "" {
		log.Info("monitoring: no previous run to compare against")
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return nil
	}
	for _, a := range alerts {
		log.Warn(a.Message, zap.String("type", string(a.Type)), zap.Any("details", a.Details))
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}
