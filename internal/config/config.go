package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/contact-research/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Tavily     TavilyConfig     `yaml:"tavily" mapstructure:"tavily"`
	Groq       GroqConfig       `yaml:"groq" mapstructure:"groq"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Research   ResearchConfig   `yaml:"research" mapstructure:"research"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// TavilyConfig holds Tavily search API settings.
type TavilyConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	SearchDepth       string  `yaml:"search_depth" mapstructure:"search_depth"`
	MaxResults        int     `yaml:"max_results" mapstructure:"max_results"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// GroqConfig holds Groq (OpenAI-compatible) API settings.
type GroqConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// LLMConfig selects the extraction provider.
type LLMConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
}

// ResearchConfig configures per-business research.
type ResearchConfig struct {
	CallTimeoutSecs    int     `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	SkipCachedStatus   bool    `yaml:"skip_cached_status" mapstructure:"skip_cached_status"`
	LayersFile         string  `yaml:"layers_file" mapstructure:"layers_file"`
	SearchCacheTTLSecs int     `yaml:"search_cache_ttl_secs" mapstructure:"search_cache_ttl_secs"`
	EscalateBelow      float64 `yaml:"escalate_below" mapstructure:"escalate_below"`
}

// CallTimeout returns the per-call timeout as a duration.
func (r ResearchConfig) CallTimeout() time.Duration {
	return time.Duration(r.CallTimeoutSecs) * time.Second
}

// SearchCacheTTL returns the search memo TTL as a duration.
func (r ResearchConfig) SearchCacheTTL() time.Duration {
	return time.Duration(r.SearchCacheTTLSecs) * time.Second
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrent      int  `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	DelayMs            int  `yaml:"delay_ms" mapstructure:"delay_ms"`
	StopOnBillingError bool `yaml:"stop_on_billing_error" mapstructure:"stop_on_billing_error"`
}

// Delay returns the inter-call delay as a duration.
func (b BatchConfig) Delay() time.Duration {
	return time.Duration(b.DelayMs) * time.Millisecond
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Groq      map[string]ModelPricing `yaml:"groq" mapstructure:"groq"`
	Search    SearchPricing           `yaml:"search" mapstructure:"search"`
	Research  ResearchPricing         `yaml:"research" mapstructure:"research"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	BatchDiscount float64 `yaml:"batch_discount" mapstructure:"batch_discount"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// SearchPricing holds web search pricing.
type SearchPricing struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// ResearchPricing describes the footprint of one fresh research call.
type ResearchPricing struct {
	QueriesPerResearch int     `yaml:"queries_per_research" mapstructure:"queries_per_research"`
	LLMPerCall         float64 `yaml:"llm_per_call" mapstructure:"llm_per_call"`
	SecondsPerResearch float64 `yaml:"seconds_per_research" mapstructure:"seconds_per_research"`
}

// Rates converts pricing config into cost calculator rates. Model maps left
// empty fall back to the calculator defaults.
func (p PricingConfig) Rates() cost.Rates {
	def := cost.DefaultRates()
	rates := cost.Rates{
		Anthropic: convertModels(p.Anthropic, def.Anthropic),
		Groq:      convertModels(p.Groq, def.Groq),
		Search:    cost.SearchRate{PerQuery: p.Search.PerQuery},
		Research: cost.ResearchRate{
			QueriesPerResearch: p.Research.QueriesPerResearch,
			LLMPerCall:         p.Research.LLMPerCall,
			SecondsPerResearch: p.Research.SecondsPerResearch,
		},
	}
	return rates
}

func convertModels(in map[string]ModelPricing, fallback map[string]cost.ModelRate) map[string]cost.ModelRate {
	if len(in) == 0 {
		return fallback
	}
	out := make(map[string]cost.ModelRate, len(in))
	for name, m := range in {
		out[name] = cost.ModelRate{
			Input:         m.Input,
			Output:        m.Output,
			BatchDiscount: m.BatchDiscount,
			CacheWriteMul: m.CacheWriteMul,
			CacheReadMul:  m.CacheReadMul,
		}
	}
	return out
}

// ServerConfig configures the HTTP control API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures run-log health checks and webhook alerts.
type MonitoringConfig struct {
	Enabled                   bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL                string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs         int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours       int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	BillingErrorRateThreshold float64 `yaml:"billing_error_rate_threshold" mapstructure:"billing_error_rate_threshold"`
	ManualBacklogThreshold    int     `yaml:"manual_backlog_threshold" mapstructure:"manual_backlog_threshold"`
	StuckRunHours             int     `yaml:"stuck_run_hours" mapstructure:"stuck_run_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// API keys also accept the providers' conventional variable names.
	for key, envs := range map[string][]string{
		"tavily.key":         {"RESEARCH_TAVILY_KEY", "TAVILY_API_KEY"},
		"groq.key":           {"RESEARCH_GROQ_KEY", "GROQ_API_KEY"},
		"anthropic.key":      {"RESEARCH_ANTHROPIC_KEY", "ANTHROPIC_API_KEY"},
		"store.database_url": {"RESEARCH_STORE_DATABASE_URL", "DATABASE_URL"},
	} {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "contact_research.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("tavily.base_url", "https://api.tavily.com")
	v.SetDefault("tavily.search_depth", "advanced")
	v.SetDefault("tavily.max_results", 3)
	v.SetDefault("tavily.requests_per_second", 2.0)
	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.model", "llama-3.3-70b-versatile")
	v.SetDefault("groq.max_tokens", 800)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 800)
	v.SetDefault("llm.provider", "groq")
	v.SetDefault("research.call_timeout_secs", 120)
	v.SetDefault("research.skip_cached_status", false)
	v.SetDefault("research.search_cache_ttl_secs", 3600)
	v.SetDefault("research.escalate_below", 7.0)
	v.SetDefault("batch.max_concurrent", 1)
	v.SetDefault("batch.delay_ms", 3000)
	v.SetDefault("batch.stop_on_billing_error", false)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.billing_error_rate_threshold", 0.2)
	v.SetDefault("monitoring.manual_backlog_threshold", 0)
	v.SetDefault("monitoring.stuck_run_hours", 6)
	v.SetDefault("pricing.search.per_query", 0.008)
	v.SetDefault("pricing.research.queries_per_research", 3)
	v.SetDefault("pricing.research.llm_per_call", 0.002)
	v.SetDefault("pricing.research.seconds_per_research", 15.0)

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

// Validate checks the settings a command needs. mode is one of "research",
// "batch", "cache" or "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	if c.Batch.MaxConcurrent < 1 || c.Batch.MaxConcurrent > 50 {
		errs = append(errs, "batch.max_concurrent must be between 1 and 50")
	}
	if c.Batch.DelayMs < 0 {
		errs = append(errs, "batch.delay_ms must be >= 0")
	}
	if c.Research.CallTimeoutSecs < 0 {
		errs = append(errs, "research.call_timeout_secs must be >= 0")
	}
	if c.Research.EscalateBelow < 0 || c.Research.EscalateBelow > 10 {
		errs = append(errs, "research.escalate_below must be between 0 and 10")
	}
	if c.Monitoring.Enabled && c.Monitoring.LookbackWindowHours <= 0 {
		errs = append(errs, "monitoring.lookback_window_hours must be > 0")
	}

	switch mode {
	case "research", "batch", "serve":
		errs = append(errs, c.validateProviders()...)
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "cache":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateProviders() []string {
	var errs []string
	if c.Tavily.Key == "" {
		errs = append(errs, "tavily.key is required")
	}
	switch c.LLM.Provider {
	case "groq":
		if c.Groq.Key == "" {
			errs = append(errs, "groq.key is required")
		}
	case "anthropic":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("llm.provider must be groq or anthropic, got %q", c.LLM.Provider))
	}
	return errs
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
