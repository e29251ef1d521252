package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/castmatch/outreach-cli/internal/model"
	"github.com/castmatch/outreach-cli/internal/monitoring"
	"github.com/castmatch/outreach-cli/internal/pipeline"
	"github.com/castmatch/outreach-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline scheduler and operator API",
	Long:  "Starts the stage sweeps, the reconciler, and the monitoring check on their configured intervals, and serves the operator HTTP API.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store, env.Journal, env.Breakers)
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)

		sched := pipeline.NewScheduler(env.Journal)
		sched.Register(env.Engine.Tasks()...)
		sched.Register(checkTask(checker, cfg.Monitoring.CheckInterval()))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Run(ctx)
		}()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: buildRouter(env.Store, collector, cfg.Monitoring.LookbackWindowHours),
		}

		// Graceful shutdown: stop accepting requests, then let the
		// scheduler drain in-flight sweeps.
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			stop()
			wg.Wait()
			return eris.Wrap(err, "server listen")
		}

		wg.Wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// alertChecker is the monitoring surface the scheduler drives.
type alertChecker interface {
	Check(ctx context.Context) (triggered, sent int, err error)
}

// checkTask adapts the monitoring checker to a scheduler task. Delivered
// alerts count as processed; alerts that triggered but could not be sent
// count as failed, so undeliverable alerts surface in the run journal.
func checkTask(c alertChecker, interval time.Duration) pipeline.Task {
	return pipeline.Task{
		Name:     "monitoring",
		Interval: interval,
		Run: func(ctx context.Context) (pipeline.Result, error) {
			triggered, sent, err := c.Check(ctx)
			return pipeline.Result{Processed: sent, Failed: triggered - sent}, err
		},
	}
}

// apiStore is the store slice the operator API touches.
type apiStore interface {
	ListActiveCampaigns(ctx context.Context) ([]model.Campaign, error)
	StatusCounts(ctx context.Context, campaignID string) ([]model.StatusCount, error)
	CountMissingDescriptions(ctx context.Context, campaignID string) (int, error)
	ForceRevet(ctx context.Context, discoveryID int64) error
}

// metricsSource produces the snapshot behind /api/metrics.
type metricsSource interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error)
}

// buildRouter assembles the operator API.
func buildRouter(st apiStore, metrics metricsSource, lookbackHours int) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/campaigns", func(w http.ResponseWriter, req *http.Request) {
		campaigns, err := st.ListActiveCampaigns(req.Context())
		if err != nil {
			zap.L().Error("campaign list failed", zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "campaign list failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"campaigns": campaigns})
	})

	r.Get("/api/campaigns/{campaignID}/status", func(w http.ResponseWriter, req *http.Request) {
		campaignID := chi.URLParam(req, "campaignID")

		funnel, counts, err := campaignStatus(req.Context(), st, campaignID)
		if err != nil {
			zap.L().Error("status query failed", zap.String("campaign_id", campaignID), zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "status query failed")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"funnel": funnel,
			"counts": counts,
		})
	})

	r.Post("/api/discoveries/{discoveryID}/revet", func(w http.ResponseWriter, req *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(req, "discoveryID"), 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "discovery id must be an integer")
			return
		}

		switch err := st.ForceRevet(req.Context(), id); {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]any{"discovery_id": id, "status": "pending"})
		case eris.Is(err, store.ErrDiscoveryNotFound):
			writeJSONError(w, http.StatusNotFound, "discovery not found")
		case eris.Is(err, store.ErrAlreadyMatched):
			writeJSONError(w, http.StatusConflict, "match already created")
		default:
			zap.L().Error("revet failed", zap.Int64("discovery_id", id), zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "revet failed")
		}
	})

	r.Get("/api/metrics", func(w http.ResponseWriter, req *http.Request) {
		snap, err := metrics.Collect(req.Context(), lookbackHours)
		if err != nil {
			zap.L().Error("metrics collection failed", zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "metrics collection failed")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	return r
}

// campaignStatus runs the grouped status query and folds it into the funnel
// summary, including the description gap the grouped rows cannot carry.
func campaignStatus(ctx context.Context, st apiStore, campaignID string) (model.CampaignFunnel, []model.StatusCount, error) {
	counts, err := st.StatusCounts(ctx, campaignID)
	if err != nil {
		return model.CampaignFunnel{}, nil, err
	}

	funnel := model.FunnelFromCounts(campaignID, counts)
	missing, err := st.CountMissingDescriptions(ctx, campaignID)
	if err != nil {
		return model.CampaignFunnel{}, nil, err
	}
	funnel.DescriptionMissing = missing

	return funnel, counts, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
