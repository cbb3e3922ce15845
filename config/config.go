package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the fact-check service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Usage     UsageConfig     `mapstructure:"usage"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address        string `mapstructure:"address"`
	JWTSecret      string `mapstructure:"jwt_secret"`
	AllowAnonymous bool   `mapstructure:"allow_anonymous"`
	StreamEnabled  bool   `mapstructure:"stream_enabled"`
}

func (s ServerConfig) Validate() error {
	if s.JWTSecret == "" && !s.AllowAnonymous {
		return fmt.Errorf("server.jwt_secret required unless server.allow_anonymous is set")
	}
	return nil
}

// LLMConfig selects and configures the text-generation provider
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai, perplexity
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.Provider) == "" {
		return fmt.Errorf("llm.provider required")
	}
	if strings.TrimSpace(l.APIKey) == "" {
		return fmt.Errorf("llm.api_key required")
	}
	return nil
}

// SearchConfig contains web search settings for paragraph fact-check snippets
type SearchConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Provider     string        `mapstructure:"provider"` // brave, serper
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// FetchConfig controls the headless article fetcher used when a request
// carries only a URL.
type FetchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
}

// AnalysisConfig contains pipeline strategy and segmentation thresholds
type AnalysisConfig struct {
	Strategy            string          `mapstructure:"strategy"`              // single, paragraph
	OnExtractionFailure string          `mapstructure:"on_extraction_failure"` // downgrade, strict
	DetectLanguage      bool            `mapstructure:"detect_language"`
	MinParagraphLength  int             `mapstructure:"min_paragraph_length"`
	ParagraphDelay      time.Duration   `mapstructure:"paragraph_delay"`
	MaxSnippets         int             `mapstructure:"max_snippets"`
	StreamEventDelay    time.Duration   `mapstructure:"stream_event_delay"`
	Segmenter           SegmenterConfig `mapstructure:"segmenter"`
}

func (a AnalysisConfig) Validate() error {
	switch a.Strategy {
	case "", "single", "paragraph":
	default:
		return fmt.Errorf("analysis.strategy must be single or paragraph, got %q", a.Strategy)
	}
	switch a.OnExtractionFailure {
	case "", "downgrade", "strict":
	default:
		return fmt.Errorf("analysis.on_extraction_failure must be downgrade or strict, got %q", a.OnExtractionFailure)
	}
	return nil
}

// SegmenterConfig holds the length thresholds for the segmentation cascade
type SegmenterConfig struct {
	MinFragmentLength   int `mapstructure:"min_fragment_length"`
	MinMeaningfulLength int `mapstructure:"min_meaningful_length"`
	MinSentences        int `mapstructure:"min_sentences"`
	MinChunkLength      int `mapstructure:"min_chunk_length"`
	MaxChunkLength      int `mapstructure:"max_chunk_length"`
	TargetFragments     int `mapstructure:"target_fragments"`
	MinContentLength    int `mapstructure:"min_content_length"`
}

// CacheConfig controls analysis caching and pruning
type CacheConfig struct {
	FreshnessWindow time.Duration `mapstructure:"freshness_window"`
	Retention       time.Duration `mapstructure:"retention"`
	JanitorCron     string        `mapstructure:"janitor_cron"`
}

// UsageConfig controls the monthly usage gate
type UsageConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	MonthlyLimit int  `mapstructure:"monthly_limit"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DSN builds a connection string from the individual fields unless a full
// URL is configured.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// Configured reports whether any Postgres target was set; when false the
// server falls back to the in-memory cache store.
func (p PostgresConfig) Configured() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

func (p PostgresConfig) Validate() error {
	if !p.Configured() || strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Configured() bool {
	return strings.TrimSpace(r.Host) != ""
}

func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "60s")
	viper.SetDefault("server.address", ":10002")
	viper.SetDefault("server.stream_enabled", true)
	viper.SetDefault("llm.provider", "perplexity")
	viper.SetDefault("llm.model", "sonar-pro")
	viper.SetDefault("llm.temperature", 0.0)
	viper.SetDefault("llm.max_tokens", 4096)
	viper.SetDefault("llm.timeout", "90s")
	viper.SetDefault("search.provider", "brave")
	viper.SetDefault("search.max_results", 3)
	viper.SetDefault("search.timeout", "10s")
	viper.SetDefault("fetch.timeout", "15s")
	viper.SetDefault("fetch.max_chars", 20000)
	viper.SetDefault("analysis.strategy", "single")
	viper.SetDefault("analysis.on_extraction_failure", "downgrade")
	viper.SetDefault("analysis.min_paragraph_length", 50)
	viper.SetDefault("analysis.paragraph_delay", "1s")
	viper.SetDefault("analysis.max_snippets", 3)
	viper.SetDefault("analysis.stream_event_delay", "150ms")
	viper.SetDefault("cache.freshness_window", "24h")
	viper.SetDefault("cache.retention", "720h")
	viper.SetDefault("cache.janitor_cron", "0 3 * * *")
	viper.SetDefault("usage.monthly_limit", 50)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("NEWSCHECK")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Server.Validate(); err != nil {
		panic(err)
	}
	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	if err := config.Analysis.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	return &config
}
