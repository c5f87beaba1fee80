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
	OpenAI    OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Ollama    OllamaConfig    `yaml:"ollama" mapstructure:"ollama"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Data      DataConfig      `yaml:"data" mapstructure:"data"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// OllamaConfig holds local-inference settings. Every timeout and retry knob
// is overridable through the environment (ENRICH_OLLAMA_*).
type OllamaConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	Model          string  `yaml:"model" mapstructure:"model"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries     int     `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelaySecs float64 `yaml:"retry_delay_secs" mapstructure:"retry_delay_secs"`
}

// Timeout returns the per-call timeout as a duration.
func (c OllamaConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// RetryDelay returns the base backoff delay as a duration.
func (c OllamaConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySecs * float64(time.Second))
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Dir                 string  `yaml:"dir" mapstructure:"dir"`
	MaxAgeHours         int     `yaml:"max_age_hours" mapstructure:"max_age_hours"`
	MaxEntries          int     `yaml:"max_entries" mapstructure:"max_entries"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
}

// MaxAge returns the entry expiry window as a duration.
func (c CacheConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeHours) * time.Hour
}

// EnrichConfig configures the enrichment pipeline.
type EnrichConfig struct {
	RequestTimeoutSecs int    `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	InterItemPauseMs   int    `yaml:"inter_item_pause_ms" mapstructure:"inter_item_pause_ms"`
	FieldAttempts      int    `yaml:"field_attempts" mapstructure:"field_attempts"`
	PromptTemplatePath string `yaml:"prompt_template_path" mapstructure:"prompt_template_path"`
}

// RequestTimeout returns the hosted-backend call timeout.
func (c EnrichConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// InterItemPause returns the pause applied between batch items.
func (c EnrichConfig) InterItemPause() time.Duration {
	return time.Duration(c.InterItemPauseMs) * time.Millisecond
}

// DataConfig configures master knowledge-base storage.
type DataConfig struct {
	Dir       string `yaml:"dir" mapstructure:"dir"`
	BackupDir string `yaml:"backup_dir" mapstructure:"backup_dir"`
}

// StoreConfig configures the batch job store.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional provider variables work alongside the ENRICH_ prefix.
	_ = v.BindEnv("openai.key", "ENRICH_OPENAI_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("anthropic.key", "ENRICH_ANTHROPIC_KEY", "ANTHROPIC_API_KEY")

	// Defaults. Keys default to empty so the env bindings take effect.
	v.SetDefault("openai.key", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("openai.base_url", "https://api.openai.com")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("anthropic.model", "claude-3-5-haiku-20241022")
	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.model", "qwen:7b")
	v.SetDefault("ollama.timeout_secs", 60)
	v.SetDefault("ollama.max_retries", 3)
	v.SetDefault("ollama.retry_delay_secs", 2.0)
	v.SetDefault("cache.dir", "cache")
	v.SetDefault("cache.max_age_hours", 24)
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.similarity_threshold", 0.8)
	v.SetDefault("enrich.request_timeout_secs", 60)
	v.SetDefault("enrich.inter_item_pause_ms", 500)
	v.SetDefault("enrich.field_attempts", 3)
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.backup_dir", "backups")
	v.SetDefault("store.path", "data/jobs.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
