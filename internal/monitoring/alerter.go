package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-research/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertBillingErrorRate AlertType = "billing_error_rate"
	AlertManualBacklog    AlertType = "manual_backlog"
	AlertStuckRuns        AlertType = "stuck_runs"
)

// minResearchedForRate is the sample size below which the billing error
// rate is not alerted on.
const minResearchedForRate = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
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
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.BillingErrorRateThreshold > 0 &&
		snap.NamesResearched >= minResearchedForRate &&
		snap.BillingErrorRate > a.cfg.BillingErrorRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertBillingErrorRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Billing error rate %.1f%% exceeds threshold %.1f%% (%d errors / %d researched in last %dh)",
				snap.BillingErrorRate*100, a.cfg.BillingErrorRateThreshold*100,
				snap.BillingErrors, snap.NamesResearched, snap.LookbackHours,
			),
			Details: map[string]any{
				"billing_error_rate": snap.BillingErrorRate,
				"threshold":          a.cfg.BillingErrorRateThreshold,
				"billing_errors":     snap.BillingErrors,
				"researched":         snap.NamesResearched,
			},
			Timestamp: now,
		})
	}

	if a.cfg.ManualBacklogThreshold > 0 && snap.ManualRequired >= a.cfg.ManualBacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertManualBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d businesses need manual research (threshold %d)",
				snap.ManualRequired, a.cfg.ManualBacklogThreshold,
			),
			Details: map[string]any{
				"manual_required": snap.ManualRequired,
				"threshold":       a.cfg.ManualBacklogThreshold,
				"cached_total":    snap.CachedTotal,
			},
			Timestamp: now,
		})
	}

	if snap.RunsStuck > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStuckRuns,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d batch run(s) still marked running after %dh",
				snap.RunsStuck, a.cfg.StuckRunHours,
			),
			Details: map[string]any{
				"stuck":   snap.RunsStuck,
				"running": snap.RunsRunning,
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
