package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/castmatch/outreach-cli/internal/aigen"
	"github.com/castmatch/outreach-cli/internal/enrich"
	"github.com/castmatch/outreach-cli/internal/journal"
	"github.com/castmatch/outreach-cli/internal/pipeline"
	"github.com/castmatch/outreach-cli/internal/resilience"
	"github.com/castmatch/outreach-cli/internal/store"
	anthropicpkg "github.com/castmatch/outreach-cli/pkg/anthropic"
	"github.com/castmatch/outreach-cli/pkg/notion"
	"github.com/castmatch/outreach-cli/pkg/podscan"
)

// pipelineEnv holds the store, journal, and engine shared by the serve and
// sweep commands. Breakers is the per-provider circuit registry, exposed so
// the monitoring snapshot can report circuit states.
type pipelineEnv struct {
	Store    *store.Store
	Journal  journal.Journal
	Engine   *pipeline.Engine
	Breakers *resilience.ServiceBreakers
}

// Close releases the journal and the database pool.
func (pe *pipelineEnv) Close() {
	if pe.Journal != nil {
		_ = pe.Journal.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore connects the main Postgres pool and applies the schema.
func initStore(ctx context.Context) (*store.Store, error) {
	st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initJournal builds the sweep journal. Postgres shares the store pool;
// sqlite writes a local file so one-shot sweeps keep their history without
// a server database.
func initJournal(st *store.Store) (journal.Journal, error) {
	switch cfg.Journal.Driver {
	case "postgres":
		return journal.NewPostgres(st.Pool()), nil
	case "sqlite":
		return journal.NewSQLite(cfg.Journal.Path)
	default:
		return nil, eris.Errorf("unsupported journal driver: %s", cfg.Journal.Driver)
	}
}

// initPipeline sets up the store, journal, provider clients, and the engine.
// Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	jrnl, err := initJournal(st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	locks := store.NewLockManager(st.Pool(), store.LockConfig{
		StaleAfter:  cfg.Pipeline.StaleAfter(),
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		BackoffBase: cfg.Pipeline.BackoffBase(),
		BackoffCap:  cfg.Pipeline.BackoffCap(),
	})

	podscanOpts := []podscan.Option{}
	if cfg.Podscan.BaseURL != "" {
		podscanOpts = append(podscanOpts, podscan.WithBaseURL(cfg.Podscan.BaseURL))
	}
	podscanClient := podscan.NewClient(cfg.Podscan.Key, podscanOpts...)
	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	breakers := resilience.NewServiceBreakers(resilience.FromCircuitConfig(
		cfg.Resilience.CircuitFailures, cfg.Resilience.CircuitResetSecs))
	retry := resilience.FromRetryConfig(
		cfg.Resilience.RetryAttempts, cfg.Resilience.RetryBackoffMs, cfg.Resilience.RetryMaxBackoffMs)

	// Review board mirror is optional: without it matches are still created,
	// the reconciler backfills cards once Notion is configured.
	var board *pipeline.ReviewMirror
	if cfg.Notion.Token != "" && cfg.Notion.ReviewDB != "" {
		board = pipeline.NewReviewMirror(notion.NewClient(cfg.Notion.Token), cfg.Notion.ReviewDB, retry)
		zap.L().Info("notion review board enabled")
	} else {
		zap.L().Warn("notion not configured, review cards will not be mirrored")
	}

	// The describer and scorer share one breaker: they call the same provider.
	anthropicBreaker := breakers.Get("anthropic")

	engine := pipeline.NewEngine(pipeline.Deps{
		Store:     st,
		Locks:     locks,
		Journal:   jrnl,
		Enricher:  enrich.NewEnricher(st, podscanClient, breakers.Get("podscan"), retry),
		Describer: aigen.NewDescriber(anthropicClient, cfg.Anthropic.HaikuModel, anthropicBreaker),
		Scorer:    aigen.NewScorer(anthropicClient, cfg.Anthropic.SonnetModel, anthropicBreaker),
		Board:     board,
		Config:    cfg.Pipeline,
	})

	return &pipelineEnv{Store: st, Journal: jrnl, Engine: engine, Breakers: breakers}, nil
}
