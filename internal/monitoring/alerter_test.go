package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmatch/outreach-cli/internal/config"
	"github.com/castmatch/outreach-cli/internal/store"
)

func newTestAlerter() *Alerter {
	return NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.25,
		BacklogThreshold:     500,
	})
}

func TestAlerter_Evaluate_HealthySnapshot(t *testing.T) {
	snap := &MetricsSnapshot{
		Backlog:          store.BacklogCounts{EnrichmentPending: 40, VettingPending: 12},
		RunsTotal:        30,
		RecordsProcessed: 95,
		RecordsFailed:    5,
		RecordFailRate:   0.05,
		LookbackHours:    24,
	}
	assert.Empty(t, newTestAlerter().Evaluate(snap))
}

func TestAlerter_Evaluate_RecordFailureRate(t *testing.T) {
	snap := &MetricsSnapshot{
		RecordsProcessed: 12,
		RecordsFailed:    8, // 8/20 = 40%
		RecordFailRate:   0.4,
		LookbackHours:    24,
	}
	alerts := newTestAlerter().Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRecordFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_FailureRateNeedsSample(t *testing.T) {
	// 12 records touched, below the 20-record minimum: a terrible rate on
	// a tiny sample stays quiet.
	snap := &MetricsSnapshot{
		RecordsProcessed: 4,
		RecordsFailed:    8,
		RecordFailRate:   0.666,
		LookbackHours:    24,
	}
	assert.Empty(t, newTestAlerter().Evaluate(snap))
}

func TestAlerter_Evaluate_BacklogDepth(t *testing.T) {
	snap := &MetricsSnapshot{
		Backlog: store.BacklogCounts{
			EnrichmentPending:  400,
			DescriptionMissing: 120,
			VettingPending:     90,
		},
		LookbackHours: 24,
	}
	alerts := newTestAlerter().Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertBacklogDepth, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "610")
}

func TestAlerter_Evaluate_BacklogThresholdDisabled(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{BacklogThreshold: 0})
	snap := &MetricsSnapshot{
		Backlog:       store.BacklogCounts{EnrichmentPending: 9999},
		LookbackHours: 24,
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_SweepFailure(t *testing.T) {
	snap := &MetricsSnapshot{
		RunsTotal:     48,
		RunsFailed:    2,
		LookbackHours: 24,
	}
	alerts := newTestAlerter().Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSweepFailure, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "2 sweep run(s)")
}

func TestAlerter_Evaluate_StackedAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.25,
		BacklogThreshold:     100,
	})
	snap := &MetricsSnapshot{
		Backlog:          store.BacklogCounts{EnrichmentPending: 300},
		RunsTotal:        20,
		RunsFailed:       3,
		RecordsProcessed: 10,
		RecordsFailed:    10,
		RecordFailRate:   0.5,
		LookbackHours:    24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 3)
	types := make(map[AlertType]bool)
	for _, alert := range alerts {
		types[alert.Type] = true
	}
	assert.True(t, types[AlertRecordFailureRate])
	assert.True(t, types[AlertBacklogDepth])
	assert.True(t, types[AlertSweepFailure])
}

func TestAlerter_SendAlerts_DeliversBatch(t *testing.T) {
	var mu sync.Mutex
	var got []AlertType
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		mu.Lock()
		got = append(got, alert.Type)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRecordFailureRate, Severity: "high", Message: "failure rate 40%"},
		{Type: AlertSweepFailure, Severity: "high", Message: "2 sweep runs failed"},
	})

	assert.Equal(t, 2, sent)
	assert.Equal(t, []AlertType{AlertRecordFailureRate, AlertSweepFailure}, got)
}

func TestAlerter_SendAlerts_SkipsFailedDelivery(t *testing.T) {
	// First request is rejected, second accepted: the batch keeps going.
	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "hook disabled", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRecordFailureRate, Message: "dropped"},
		{Type: AlertSweepFailure, Message: "delivered"},
	})

	assert.Equal(t, 1, sent)
	assert.Equal(t, 2, calls)
}

func TestAlerter_SendAlerts_NothingToDo(t *testing.T) {
	unconfigured := NewAlerter(config.MonitoringConfig{})
	assert.Equal(t, 0, unconfigured.SendAlerts(context.Background(), []Alert{{Type: AlertSweepFailure}}))

	configured := NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})
	assert.Equal(t, 0, configured.SendAlerts(context.Background(), nil))
}
