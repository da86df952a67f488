package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geodekking/pakketpunten/internal/config"
	"github.com/geodekking/pakketpunten/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCarrierDrop      AlertType = "carrier_drop"
	AlertBatchFailureRate AlertType = "batch_failure_rate"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Carrier totals against the previous run. A carrier that reported
	// nothing before has no baseline.
	if a.cfg.DropThreshold > 0 {
		carriers := make([]model.Carrier, 0, len(snap.PreviousTotals))
		for c := range snap.PreviousTotals {
			carriers = append(carriers, c)
		}
		sort.Slice(carriers, func(i, j int) bool { return carriers[i] < carriers[j] })

		for _, c := range carriers {
			prev := snap.PreviousTotals[c]
			if prev <= 0 {
				continue
			}
			cur := snap.CarrierTotals[c]
			drop := float64(prev-cur) / float64(prev)
			if drop <= a.cfg.DropThreshold {
				continue
			}
			alerts = append(alerts, Alert{
				Type:     AlertCarrierDrop,
				Severity: "high",
				Message: fmt.Sprintf(
					"%s pickup points dropped %.1f%% (%d -> %d), threshold %.1f%%",
					c, drop*100, prev, cur, a.cfg.DropThreshold*100,
				),
				Details: map[string]any{
					"carrier":         string(c),
					"previous":        prev,
					"current":         cur,
					"drop":            drop,
					"threshold":       a.cfg.DropThreshold,
					"previous_run_id": snap.PreviousRunID,
				},
				Timestamp: now,
			})
		}
	}

	finished := snap.Succeeded + snap.Failed
	if a.cfg.MaxFailureRate > 0 && finished > 0 && snap.FailRate > a.cfg.MaxFailureRate {
		alerts = append(alerts, Alert{
			Type:     AlertBatchFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Municipality failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d)",
				snap.FailRate*100, a.cfg.MaxFailureRate*100, snap.Failed, finished,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.MaxFailureRate,
				"failed":       snap.Failed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
