package analysis

import (
	"fmt"
	"strings"
	"time"
)

// ProviderConfig selects and configures the generative provider.
type ProviderConfig struct {
	Provider      string
	GeminiBaseURL string
	GeminiAPIKey  string
	GeminiModel   string
	OpenAIBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string
	Timeout       time.Duration
	MinInterval   time.Duration
}

// NewAnalyzer returns the configured provider, or nil for "synthetic". A
// provider without credentials is an error so misconfiguration is visible at
// startup; callers may still run with a nil analyzer.
func NewAnalyzer(cfg ProviderConfig) (Analyzer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", SourceGemini:
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrNotConfigured)
		}
		return &GeminiAnalyzer{BaseURL: cfg.GeminiBaseURL, APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel}, nil
	case SourceOpenAI:
		return NewOpenAIAnalyzer(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	case SourceSynthetic:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown analysis provider %q", cfg.Provider)
	}
}
