package monitoring

import (
	"context"

	"go.uber.org/zap"

	"github.com/castmatch/outreach-cli/internal/config"
)

// Checker is one collect-evaluate-send pass over pipeline health. The serve
// command registers it on the scheduler at the configured check interval.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker creates an alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{collector: collector, alerter: alerter, cfg: cfg}
}

// Check runs one pass. Returns alerts triggered and alerts delivered; the
// two differ when the webhook is unset or rejects a payload.
func (c *Checker) Check(ctx context.Context) (triggered, sent int, err error) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		return 0, 0, err
	}

	alerts := c.alerter.Evaluate(snap)
	triggered = len(alerts)
	if triggered == 0 {
		log.Debug("no alerts triggered",
			zap.Int("outstanding", snap.Backlog.Outstanding()),
			zap.Float64("record_fail_rate", snap.RecordFailRate),
		)
		return 0, 0, nil
	}

	sent = c.alerter.SendAlerts(ctx, alerts)
	log.Info("alert check complete",
		zap.Int("alerts_triggered", triggered),
		zap.Int("alerts_sent", sent),
	)
	return triggered, sent, nil
}
