package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Journal    JournalConfig    `yaml:"journal" mapstructure:"journal"`
	Podscan    PodscanConfig    `yaml:"podscan" mapstructure:"podscan"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Quota      QuotaConfig      `yaml:"quota" mapstructure:"quota"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the Postgres backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// JournalConfig configures the sweep journal. Driver "postgres" shares the
// main pool; "sqlite" writes a local file for dev runs.
type JournalConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	Path   string `yaml:"path" mapstructure:"path"`
}

// PodscanConfig holds the enrichment provider API settings.
type PodscanConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic API settings. Descriptions run on the
// haiku model, vetting on sonnet.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
}

// NotionConfig holds Notion review-board settings. An empty token disables
// the review mirror.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	ReviewDB string `yaml:"review_db" mapstructure:"review_db"`
}

// SweepConfig sizes one scheduled stage sweep.
type SweepConfig struct {
	Batch        int `yaml:"batch" mapstructure:"batch"`
	IntervalSecs int `yaml:"interval_secs" mapstructure:"interval_secs"`
	TimeoutSecs  int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Interval returns the sweep period.
func (s SweepConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSecs) * time.Second
}

// Timeout returns the per-record collaborator call timeout.
func (s SweepConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSecs) * time.Second
}

// PipelineConfig configures the discovery-to-match pipeline engine.
type PipelineConfig struct {
	QualifyThreshold  int `yaml:"qualify_threshold" mapstructure:"qualify_threshold"`
	WorkerLimit       int `yaml:"worker_limit" mapstructure:"worker_limit"`
	MaxAttempts       int `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffBaseSecs   int `yaml:"backoff_base_secs" mapstructure:"backoff_base_secs"`
	BackoffCapSecs    int `yaml:"backoff_cap_secs" mapstructure:"backoff_cap_secs"`
	StaleAfterMins    int `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
	CooldownMins      int `yaml:"cooldown_mins" mapstructure:"cooldown_mins"`
	LimitedBatch      int `yaml:"limited_batch" mapstructure:"limited_batch"`
	ReconcileInterval int `yaml:"reconcile_interval_secs" mapstructure:"reconcile_interval_secs"`

	Enrichment  SweepConfig `yaml:"enrichment" mapstructure:"enrichment"`
	Description SweepConfig `yaml:"description" mapstructure:"description"`
	Vetting     SweepConfig `yaml:"vetting" mapstructure:"vetting"`
}

// BackoffBase returns the first-retry delay.
func (p PipelineConfig) BackoffBase() time.Duration {
	return time.Duration(p.BackoffBaseSecs) * time.Second
}

// BackoffCap returns the maximum retry delay.
func (p PipelineConfig) BackoffCap() time.Duration {
	return time.Duration(p.BackoffCapSecs) * time.Second
}

// StaleAfter returns the age at which a claim marker is reclaimable.
func (p PipelineConfig) StaleAfter() time.Duration {
	return time.Duration(p.StaleAfterMins) * time.Minute
}

// Cooldown returns the wait before a transient-failed record is revived.
func (p PipelineConfig) Cooldown() time.Duration {
	return time.Duration(p.CooldownMins) * time.Minute
}

// ReconcileEvery returns the reconciler sweep period.
func (p PipelineConfig) ReconcileEvery() time.Duration {
	return time.Duration(p.ReconcileInterval) * time.Second
}

// QuotaConfig configures client match quotas.
type QuotaConfig struct {
	DefaultWeeklyAllowance int `yaml:"default_weekly_allowance" mapstructure:"default_weekly_allowance"`
}

// ResilienceConfig tunes provider-call retries and circuit breakers.
type ResilienceConfig struct {
	RetryAttempts     int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs    int `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	RetryMaxBackoffMs int `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
	CircuitFailures   int `yaml:"circuit_failures" mapstructure:"circuit_failures"`
	CircuitResetSecs  int `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// MonitoringConfig configures the pipeline health checker.
type MonitoringConfig struct {
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	BacklogThreshold     int     `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// CheckInterval returns the monitoring sweep period.
func (m MonitoringConfig) CheckInterval() time.Duration {
	return time.Duration(m.CheckIntervalSecs) * time.Second
}

// Lookback returns the journal window metrics are computed over.
func (m MonitoringConfig) Lookback() time.Duration {
	return time.Duration(m.LookbackWindowHours) * time.Hour
}

// ServerConfig configures the operator API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. An empty path
// searches the working directory for config.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("journal.driver", "postgres")
	v.SetDefault("journal.path", "outreach-journal.db")
	v.SetDefault("podscan.base_url", "https://podscan.fm/api/v1")
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("pipeline.qualify_threshold", 50)
	v.SetDefault("pipeline.worker_limit", 4)
	v.SetDefault("pipeline.max_attempts", 5)
	v.SetDefault("pipeline.backoff_base_secs", 60)
	v.SetDefault("pipeline.backoff_cap_secs", 3600)
	v.SetDefault("pipeline.stale_after_mins", 15)
	v.SetDefault("pipeline.cooldown_mins", 30)
	v.SetDefault("pipeline.limited_batch", 25)
	v.SetDefault("pipeline.reconcile_interval_secs", 600)
	v.SetDefault("pipeline.enrichment.batch", 25)
	v.SetDefault("pipeline.enrichment.interval_secs", 120)
	v.SetDefault("pipeline.enrichment.timeout_secs", 30)
	v.SetDefault("pipeline.description.batch", 10)
	v.SetDefault("pipeline.description.interval_secs", 45)
	v.SetDefault("pipeline.description.timeout_secs", 60)
	v.SetDefault("pipeline.vetting.batch", 25)
	v.SetDefault("pipeline.vetting.interval_secs", 60)
	v.SetDefault("pipeline.vetting.timeout_secs", 90)
	v.SetDefault("quota.default_weekly_allowance", 10)
	v.SetDefault("resilience.retry_attempts", 3)
	v.SetDefault("resilience.retry_backoff_ms", 500)
	v.SetDefault("resilience.retry_max_backoff_ms", 5000)
	v.SetDefault("resilience.circuit_failures", 5)
	v.SetDefault("resilience.circuit_reset_secs", 60)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.backlog_threshold", 500)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the fields a command family needs are present and
// in bounds. Modes: "serve" (daemon, needs everything), "enrichment"
// (podscan calls), "aigen" (description/vetting calls), "ops" (store-only
// commands).
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Podscan.Key == "" {
			problems = append(problems, "podscan.key is required")
		}
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		problems = append(problems, c.pipelineBounds()...)
	case "enrichment":
		if c.Podscan.Key == "" {
			problems = append(problems, "podscan.key is required")
		}
		problems = append(problems, c.pipelineBounds()...)
	case "aigen":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		problems = append(problems, c.pipelineBounds()...)
	case "ops":
		// store URL only
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) pipelineBounds() []string {
	var problems []string
	if c.Pipeline.WorkerLimit < 1 || c.Pipeline.WorkerLimit > 32 {
		problems = append(problems, "pipeline.worker_limit must be between 1 and 32")
	}
	if c.Pipeline.QualifyThreshold < 0 || c.Pipeline.QualifyThreshold > 100 {
		problems = append(problems, "pipeline.qualify_threshold must be between 0 and 100")
	}
	if c.Pipeline.MaxAttempts < 1 {
		problems = append(problems, "pipeline.max_attempts must be >= 1")
	}
	if c.Pipeline.BackoffBaseSecs < 1 || c.Pipeline.BackoffCapSecs < c.Pipeline.BackoffBaseSecs {
		problems = append(problems, "pipeline backoff must satisfy 1 <= base <= cap")
	}
	return problems
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
