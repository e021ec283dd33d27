package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.AnalysisProvider != "gemini" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	pc := cfg.PollerConfig()
	if pc.Limit != 10 || pc.PreloadLimit != 30 || pc.MinDelay != 10*time.Second || pc.MaxDelay != time.Minute {
		t.Fatalf("unexpected poller config: %+v", pc)
	}
	if pc.ErrorThreshold != 5 || pc.JitterMax != 5*time.Second {
		t.Fatalf("unexpected backoff settings: %+v", pc)
	}
	if cfg.ChainStaleAfter != 30*time.Minute || cfg.ChainRetainMerged != 24*time.Hour || cfg.AnalysisConfig().Timeout != 45*time.Second {
		t.Fatalf("unexpected durations: %+v", cfg)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("POLL_MAX_DELAY", "90s")
	t.Setenv("ANALYSIS_PROVIDER", "openai")
	t.Setenv("POLL_LIMIT", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollMaxDelay != 90*time.Second || cfg.PollLimit != 25 {
		t.Fatalf("expected env overrides, got %+v", cfg)
	}
	if cfg.AnalysisConfig().Provider != "openai" {
		t.Fatalf("expected openai provider, got %s", cfg.AnalysisConfig().Provider)
	}
}
