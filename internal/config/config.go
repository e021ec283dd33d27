package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/callscope/backend/internal/analysis"
	"github.com/callscope/backend/internal/poller"
)

type Config struct {
	Env            string        `mapstructure:"ENV"`
	Port           string        `mapstructure:"PORT"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	AdminKey       string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed    string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`

	ConvAIBaseURL string `mapstructure:"CONVAI_BASE_URL"`
	ConvAIAPIKey  string `mapstructure:"CONVAI_API_KEY"`
	AgentsFile    string `mapstructure:"AGENTS_FILE"`

	PollLimit          int           `mapstructure:"POLL_LIMIT"`
	PollInitialDelay   time.Duration `mapstructure:"POLL_INITIAL_DELAY"`
	PollMinDelay       time.Duration `mapstructure:"POLL_MIN_DELAY"`
	PollMaxDelay       time.Duration `mapstructure:"POLL_MAX_DELAY"`
	PollErrorThreshold int           `mapstructure:"POLL_ERROR_THRESHOLD"`
	PollJitterMax      time.Duration `mapstructure:"POLL_JITTER_MAX"`
	PreloadLimit       int           `mapstructure:"PRELOAD_LIMIT"`
	ChainStaleAfter    time.Duration `mapstructure:"CHAIN_STALE_AFTER"`
	ChainRetainMerged  time.Duration `mapstructure:"CHAIN_RETAIN_MERGED"`

	AnalysisProvider    string        `mapstructure:"ANALYSIS_PROVIDER"`
	GeminiBaseURL       string        `mapstructure:"GEMINI_BASE_URL"`
	GeminiAPIKey        string        `mapstructure:"GEMINI_API_KEY"`
	GeminiModel         string        `mapstructure:"GEMINI_MODEL"`
	OpenAIBaseURL       string        `mapstructure:"OPENAI_BASE_URL"`
	OpenAIAPIKey        string        `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel         string        `mapstructure:"OPENAI_MODEL"`
	AnalysisTimeout     time.Duration `mapstructure:"ANALYSIS_TIMEOUT"`
	AnalysisMinInterval time.Duration `mapstructure:"ANALYSIS_MIN_INTERVAL"`

	HealthCheckInterval time.Duration `mapstructure:"HEALTH_CHECK_INTERVAL"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	v.SetDefault("CONVAI_BASE_URL", "https://api.elevenlabs.io")
	v.SetDefault("CONVAI_API_KEY", "")
	v.SetDefault("AGENTS_FILE", "")

	v.SetDefault("POLL_LIMIT", 10)
	v.SetDefault("POLL_INITIAL_DELAY", "10s")
	v.SetDefault("POLL_MIN_DELAY", "10s")
	v.SetDefault("POLL_MAX_DELAY", "60s")
	v.SetDefault("POLL_ERROR_THRESHOLD", 5)
	v.SetDefault("POLL_JITTER_MAX", "5s")
	v.SetDefault("PRELOAD_LIMIT", 30)
	v.SetDefault("CHAIN_STALE_AFTER", "30m")
	v.SetDefault("CHAIN_RETAIN_MERGED", "24h")

	v.SetDefault("ANALYSIS_PROVIDER", "gemini")
	v.SetDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com")
	v.SetDefault("GEMINI_API_KEY", "")
	v.SetDefault("GEMINI_MODEL", "gemini-2.5-flash-lite")
	v.SetDefault("OPENAI_BASE_URL", "")
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("ANALYSIS_TIMEOUT", "45s")
	v.SetDefault("ANALYSIS_MIN_INTERVAL", "10s")

	v.SetDefault("HEALTH_CHECK_INTERVAL", "2m")
}

func (c Config) PollerConfig() poller.Config {
	return poller.Config{
		Limit:          c.PollLimit,
		PreloadLimit:   c.PreloadLimit,
		InitialDelay:   c.PollInitialDelay,
		MinDelay:       c.PollMinDelay,
		MaxDelay:       c.PollMaxDelay,
		ErrorThreshold: c.PollErrorThreshold,
		JitterMax:      c.PollJitterMax,
	}
}

func (c Config) AnalysisConfig() analysis.ProviderConfig {
	return analysis.ProviderConfig{
		Provider:      c.AnalysisProvider,
		GeminiBaseURL: c.GeminiBaseURL,
		GeminiAPIKey:  c.GeminiAPIKey,
		GeminiModel:   c.GeminiModel,
		OpenAIBaseURL: c.OpenAIBaseURL,
		OpenAIAPIKey:  c.OpenAIAPIKey,
		OpenAIModel:   c.OpenAIModel,
		Timeout:       c.AnalysisTimeout,
		MinInterval:   c.AnalysisMinInterval,
	}
}
