package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/castmatch/outreach-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRecordFailureRate AlertType = "record_failure_rate"
	AlertBacklogDepth      AlertType = "backlog_depth"
	AlertSweepFailure      AlertType = "sweep_failure"
)

// minFailureSample is the fewest records a window must have touched before
// the failure rate says anything.
const minFailureSample = 20

// Alert is a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds and
// sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter with the given monitoring config.
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
	add := func(t AlertType, severity, message string, details map[string]any) {
		alerts = append(alerts, Alert{Type: t, Severity: severity, Message: message, Details: details, Timestamp: now})
	}

	touched := snap.RecordsProcessed + snap.RecordsFailed
	if touched >= minFailureSample && snap.RecordFailRate > a.cfg.FailureRateThreshold {
		add(AlertRecordFailureRate, "high",
			fmt.Sprintf("Record failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d touched in last %dh)",
				snap.RecordFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RecordsFailed, touched, snap.LookbackHours),
			map[string]any{
				"failure_rate": snap.RecordFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RecordsFailed,
				"touched":      touched,
			})
	}

	if outstanding := snap.Backlog.Outstanding(); a.cfg.BacklogThreshold > 0 && outstanding > a.cfg.BacklogThreshold {
		add(AlertBacklogDepth, "medium",
			fmt.Sprintf("Pipeline backlog %d exceeds threshold %d (enrichment %d, descriptions %d, vetting %d)",
				outstanding, a.cfg.BacklogThreshold,
				snap.Backlog.EnrichmentPending, snap.Backlog.DescriptionMissing, snap.Backlog.VettingPending),
			map[string]any{
				"outstanding":         outstanding,
				"threshold":           a.cfg.BacklogThreshold,
				"enrichment_pending":  snap.Backlog.EnrichmentPending,
				"description_missing": snap.Backlog.DescriptionMissing,
				"vetting_pending":     snap.Backlog.VettingPending,
			})
	}

	if snap.RunsFailed > 0 {
		add(AlertSweepFailure, "high",
			fmt.Sprintf("%d sweep run(s) failed in last %dh", snap.RunsFailed, snap.LookbackHours),
			map[string]any{
				"failed_runs": snap.RunsFailed,
				"total_runs":  snap.RunsTotal,
			})
	}

	return alerts
}

// SendAlerts posts each alert to the configured webhook. A failed delivery
// is logged and skipped; the rest of the batch still goes out. Returns how
// many alerts were delivered.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.deliver(ctx, alert); err != nil {
			zap.L().Error("monitoring: alert delivery failed",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert delivered",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// deliver posts one alert as JSON.
func (a *Alerter) deliver(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return eris.Errorf("monitoring: webhook status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
