// Package monitoring watches pipeline health: a Collector snapshots funnel
// depth and sweep-journal outcomes, an Alerter turns threshold breaches into
// webhook alerts, and a Checker ties both into one schedulable pass.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/castmatch/outreach-cli/internal/journal"
	"github.com/castmatch/outreach-cli/internal/resilience"
	"github.com/castmatch/outreach-cli/internal/store"
)

// recentRunLimit bounds how much journal history one snapshot reads.
const recentRunLimit = 1000

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Funnel depth right now, across all campaigns.
	Backlog store.BacklogCounts `json:"backlog"`

	// Sweep run outcomes within the lookback window.
	RunsTotal        int     `json:"runs_total"`
	RunsFailed       int     `json:"runs_failed"`
	RecordsProcessed int     `json:"records_processed"`
	RecordsFailed    int     `json:"records_failed"`
	RecordFailRate   float64 `json:"record_fail_rate"`

	// LastRuns maps each task to its most recent journal entry.
	LastRuns map[string]journal.Entry `json:"last_runs,omitempty"`

	// Breakers maps each provider to its circuit state.
	Breakers map[string]string `json:"breakers,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// backlogStore is the store slice the collector reads.
type backlogStore interface {
	StageBacklog(ctx context.Context) (store.BacklogCounts, error)
}

// runLog is the journal slice the collector reads.
type runLog interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
	LastPerTask(ctx context.Context) (map[string]journal.Entry, error)
}

// circuitSource reports provider circuit states.
type circuitSource interface {
	States() map[string]resilience.CircuitState
}

// Collector gathers metrics from the store and the sweep journal.
type Collector struct {
	store    backlogStore
	runs     runLog
	breakers circuitSource
}

// NewCollector creates a metrics collector. A nil run log limits the
// snapshot to funnel depth; a nil breaker registry omits circuit states.
func NewCollector(st backlogStore, runs runLog, breakers *resilience.ServiceBreakers) *Collector {
	c := &Collector{store: st, runs: runs}
	if breakers != nil {
		c.breakers = breakers
	}
	return c
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	backlog, err := c.store.StageBacklog(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: stage backlog")
	}
	snap.Backlog = backlog

	if c.breakers != nil {
		if states := c.breakers.States(); len(states) > 0 {
			snap.Breakers = make(map[string]string, len(states))
			for name, state := range states {
				snap.Breakers[name] = state.String()
			}
		}
	}

	if c.runs == nil {
		return snap, nil
	}

	cutoff := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)
	entries, err := c.runs.Recent(ctx, recentRunLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: recent runs")
	}
	for _, e := range entries {
		if e.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		if e.Status == journal.StatusFailed {
			snap.RunsFailed++
		}
		snap.RecordsProcessed += e.Processed
		snap.RecordsFailed += e.Failed
	}
	if touched := snap.RecordsProcessed + snap.RecordsFailed; touched > 0 {
		snap.RecordFailRate = float64(snap.RecordsFailed) / float64(touched)
	}

	last, err := c.runs.LastPerTask(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: last runs")
	}
	if len(last) > 0 {
		snap.LastRuns = last
	}

	return snap, nil
}
