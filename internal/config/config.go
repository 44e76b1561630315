package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Budget     BudgetConfig     `yaml:"budget" mapstructure:"budget"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" mapstructure:"rate_limit"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key             string `yaml:"key" mapstructure:"key"`
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	VisionModel     string `yaml:"vision_model" mapstructure:"vision_model"`
	GenerationModel string `yaml:"generation_model" mapstructure:"generation_model"`
	OutlineModel    string `yaml:"outline_model" mapstructure:"outline_model"`
	VisionMaxTokens int    `yaml:"vision_max_tokens" mapstructure:"vision_max_tokens"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// StoreConfig configures the checkpoint backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	RedisAddr   string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisDB     int    `yaml:"redis_db" mapstructure:"redis_db"`
	TTLHours    int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// TTL returns the checkpoint retention period; zero means keep forever.
func (s StoreConfig) TTL() time.Duration {
	return time.Duration(s.TTLHours) * time.Hour
}

// PipelineConfig configures the analysis run.
type PipelineConfig struct {
	MaxAttempts          int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffStepMS        int     `yaml:"backoff_step_ms" mapstructure:"backoff_step_ms"`
	VisionTimeoutSecs    int     `yaml:"vision_timeout_secs" mapstructure:"vision_timeout_secs"`
	SearchTimeoutSecs    int     `yaml:"search_timeout_secs" mapstructure:"search_timeout_secs"`
	GenerateTimeoutSecs  int     `yaml:"generate_timeout_secs" mapstructure:"generate_timeout_secs"`
	FallbackTopics       int     `yaml:"fallback_topics" mapstructure:"fallback_topics"`
	PromptsPath          string  `yaml:"prompts_path" mapstructure:"prompts_path"`
	StandardHoursPerUnit float64 `yaml:"standard_hours_per_unit" mapstructure:"standard_hours_per_unit"`
	PanicHoursPerUnit    float64 `yaml:"panic_hours_per_unit" mapstructure:"panic_hours_per_unit"`
}

// BackoffStep returns the linear retry step.
func (p PipelineConfig) BackoffStep() time.Duration {
	return time.Duration(p.BackoffStepMS) * time.Millisecond
}

// BudgetConfig configures token budget estimation.
type BudgetConfig struct {
	CharsPerToken       float64 `yaml:"chars_per_token" mapstructure:"chars_per_token"`
	RequiredOutput      int     `yaml:"required_output" mapstructure:"required_output"`
	Ceiling             int     `yaml:"ceiling" mapstructure:"ceiling"`
	ChunkedMaxOutput    int     `yaml:"chunked_max_output" mapstructure:"chunked_max_output"`
	PromptOverheadChars int     `yaml:"prompt_overhead_chars" mapstructure:"prompt_overhead_chars"`
}

// RateLimitConfig configures per-provider request pacing.
type RateLimitConfig struct {
	AnthropicRPS  float64 `yaml:"anthropic_rps" mapstructure:"anthropic_rps"`
	PerplexityRPS float64 `yaml:"perplexity_rps" mapstructure:"perplexity_rps"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic  map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityPricing       `yaml:"perplexity" mapstructure:"perplexity"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// PerplexityPricing holds Perplexity pricing.
type PerplexityPricing struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
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
	v.SetEnvPrefix("EXAMPREP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

// Validate checks that the settings required by the given command mode are
// present and in range. Modes: analyze, serve, explain, checkpoints.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "analyze", "serve", "explain":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	case "checkpoints":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, "store.redis_addr is required for the redis driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of sqlite, postgres, redis, memory", c.Store.Driver))
	}

	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}
	if c.Pipeline.MaxAttempts < 1 || c.Pipeline.MaxAttempts > 10 {
		errs = append(errs, "pipeline.max_attempts must be between 1 and 10")
	}
	if c.Pipeline.BackoffStepMS < 0 {
		errs = append(errs, "pipeline.backoff_step_ms must be >= 0")
	}
	if c.Budget.CharsPerToken <= 0 {
		errs = append(errs, "budget.chars_per_token must be > 0")
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.vision_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.generation_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.outline_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.vision_max_tokens", 4096)
	v.SetDefault("perplexity.key", "")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "examprep.db")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.ttl_hours", 168)
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.backoff_step_ms", 1000)
	v.SetDefault("pipeline.vision_timeout_secs", 90)
	v.SetDefault("pipeline.search_timeout_secs", 30)
	v.SetDefault("pipeline.generate_timeout_secs", 120)
	v.SetDefault("pipeline.fallback_topics", 5)
	v.SetDefault("pipeline.prompts_path", "")
	v.SetDefault("pipeline.standard_hours_per_unit", 4.0)
	v.SetDefault("pipeline.panic_hours_per_unit", 1.5)
	v.SetDefault("budget.chars_per_token", 3.5)
	v.SetDefault("budget.required_output", 4000)
	v.SetDefault("budget.ceiling", 12000)
	v.SetDefault("budget.chunked_max_output", 4000)
	v.SetDefault("budget.prompt_overhead_chars", 2400)
	v.SetDefault("rate_limit.anthropic_rps", 2.0)
	v.SetDefault("rate_limit.perplexity_rps", 1.0)
	v.SetDefault("pricing.perplexity.per_query", 0.005)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")
}

// InitLogger initializes the global zap logger. An empty format picks the
// console encoder when stderr is a terminal and JSON otherwise.
func InitLogger(cfg LogConfig) error {
	format := cfg.Format
	if format == "" {
		format = "json"
		if isTerminal(os.Stderr) {
			format = "console"
		}
	}

	var zapCfg zap.Config
	if format == "console" {
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

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
