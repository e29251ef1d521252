//go:build !integration

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmatch/outreach-cli/internal/model"
	"github.com/castmatch/outreach-cli/internal/monitoring"
	"github.com/castmatch/outreach-cli/internal/pipeline"
	"github.com/castmatch/outreach-cli/internal/store"
)

// mockAPIStore implements apiStore for router tests.
type mockAPIStore struct {
	campaigns    []model.Campaign
	campaignsErr error
	counts       []model.StatusCount
	countsErr    error
	missing      int
	missingErr   error
	revetErr     error

	revetID int64
}

func (m *mockAPIStore) ListActiveCampaigns(_ context.Context) ([]model.Campaign, error) {
	return m.campaigns, m.campaignsErr
}

func (m *mockAPIStore) StatusCounts(_ context.Context, _ string) ([]model.StatusCount, error) {
	return m.counts, m.countsErr
}

func (m *mockAPIStore) CountMissingDescriptions(_ context.Context, _ string) (int, error) {
	return m.missing, m.missingErr
}

func (m *mockAPIStore) ForceRevet(_ context.Context, id int64) error {
	m.revetID = id
	return m.revetErr
}

// mockMetrics implements metricsSource.
type mockMetrics struct {
	snap *monitoring.MetricsSnapshot
	err  error

	gotLookback int
}

func (m *mockMetrics) Collect(_ context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error) {
	m.gotLookback = lookbackHours
	if m.err != nil {
		return nil, m.err
	}
	return m.snap, nil
}

func TestBuildRouter_Health(t *testing.T) {
	r := buildRouter(&mockAPIStore{}, &mockMetrics{}, 24)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestBuildRouter_CampaignList(t *testing.T) {
	st := &mockAPIStore{campaigns: []model.Campaign{
		{ID: "camp-1", ClientID: "client-1", Name: "Q3 fintech push", Active: true},
		{ID: "camp-2", ClientID: "client-2", Name: "Founder stories", Active: true},
	}}
	r := buildRouter(st, &mockMetrics{}, 24)

	req := httptest.NewRequest(http.MethodGet, "/api/campaigns", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Campaigns []model.Campaign `json:"campaigns"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Campaigns, 2)
	assert.Equal(t, "camp-1", body.Campaigns[0].ID)
	assert.Equal(t, "Founder stories", body.Campaigns[1].Name)
}

func TestBuildRouter_CampaignList_StoreError(t *testing.T) {
	st := &mockAPIStore{campaignsErr: eris.New("pool closed")}
	r := buildRouter(st, &mockMetrics{}, 24)

	req := httptest.NewRequest(http.MethodGet, "/api/campaigns", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "campaign list failed")
}

func TestBuildRouter_CampaignStatus(t *testing.T) {
	st := &mockAPIStore{
		counts: []model.StatusCount{
			{Enrichment: model.StagePending, Vetting: model.StagePending, Count: 40},
			{Enrichment: model.StageCompleted, Vetting: model.StageCompleted, MatchCreated: true, Count: 12},
			{Enrichment: model.StageCompleted, Vetting: model.StageLimited, Count: 3},
		},
		missing: 7,
	}
	r := buildRouter(st, &mockMetrics{}, 24)

	req := httptest.NewRequest(http.MethodGet, "/api/campaigns/camp-1/status", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Funnel model.CampaignFunnel `json:"funnel"`
		Counts []model.StatusCount  `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "camp-1", body.Funnel.CampaignID)
	assert.Equal(t, 55, body.Funnel.Total)
	assert.Equal(t, 40, body.Funnel.EnrichmentPending)
	assert.Equal(t, 7, body.Funnel.DescriptionMissing)
	assert.Equal(t, 3, body.Funnel.VettingLimited)
	assert.Equal(t, 12, body.Funnel.MatchesCreated)
	assert.Len(t, body.Counts, 3)
}

func TestBuildRouter_CampaignStatus_StoreError(t *testing.T) {
	st := &mockAPIStore{countsErr: eris.New("pool closed")}
	r := buildRouter(st, &mockMetrics{}, 24)

	req := httptest.NewRequest(http.MethodGet, "/api/campaigns/camp-1/status", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "status query failed")
}

func TestBuildRouter_Revet(t *testing.T) {
	st := &mockAPIStore{}
	r := buildRouter(st, &mockMetrics{}, 24)

	req := httptest.NewRequest(http.MethodPost, "/api/discoveries/42/revet", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(42), st.revetID)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "pending", body["status"])
}

func TestBuildRouter_Revet_BadID(t *testing.T) {
	r := buildRouter(&mockAPIStore{}, &mockMetrics{}, 24)

	req := httptest.NewRequest(http.MethodPost, "/api/discoveries/abc/revet", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBuildRouter_Revet_NotFound(t *testing.T) {
	st := &mockAPIStore{revetErr: eris.Wrap(store.ErrDiscoveryNotFound, "store: revet discovery 42")}
	r := buildRouter(st, &mockMetrics{}, 24)

	req := httptest.NewRequest(http.MethodPost, "/api/discoveries/42/revet", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBuildRouter_Revet_AlreadyMatched(t *testing.T) {
	st := &mockAPIStore{revetErr: eris.Wrap(store.ErrAlreadyMatched, "store: revet discovery 42")}
	r := buildRouter(st, &mockMetrics{}, 24)

	req := httptest.NewRequest(http.MethodPost, "/api/discoveries/42/revet", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "match already created")
}

func TestBuildRouter_Metrics(t *testing.T) {
	metrics := &mockMetrics{snap: &monitoring.MetricsSnapshot{
		Backlog:       store.BacklogCounts{EnrichmentPending: 120},
		RunsTotal:     9,
		LookbackHours: 24,
		CollectedAt:   time.Now().UTC(),
	}}
	r := buildRouter(&mockAPIStore{}, metrics, 24)

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 24, metrics.gotLookback)

	var snap monitoring.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, 120, snap.Backlog.EnrichmentPending)
	assert.Equal(t, 9, snap.RunsTotal)
}

func TestBuildRouter_Metrics_CollectError(t *testing.T) {
	r := buildRouter(&mockAPIStore{}, &mockMetrics{err: eris.New("journal offline")}, 24)

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

// stubChecker implements alertChecker with fixed counts.
type stubChecker struct {
	triggered int
	sent      int
	err       error
}

func (s *stubChecker) Check(_ context.Context) (int, int, error) {
	return s.triggered, s.sent, s.err
}

func TestCheckTask_MapsAlertCounts(t *testing.T) {
	task := checkTask(&stubChecker{triggered: 3, sent: 2}, 5*time.Minute)

	assert.Equal(t, "monitoring", task.Name)
	assert.Equal(t, 5*time.Minute, task.Interval)

	res, err := task.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pipeline.Result{Processed: 2, Failed: 1}, res)
}

func TestCheckTask_CheckError(t *testing.T) {
	task := checkTask(&stubChecker{err: eris.New("collect failed")}, time.Minute)

	_, err := task.Run(context.Background())
	require.Error(t, err)
}
