package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/callscope/backend/internal/analysis"
	"github.com/callscope/backend/internal/convai"
	"github.com/callscope/backend/internal/db"
	"github.com/callscope/backend/internal/models"
)

var (
	regenerateLimit     int
	regenerateSynthetic bool
	regenerateDelay     time.Duration
)

var regenerateCmd = &cobra.Command{
	Use:   "regenerate-analytics",
	Short: "Re-run analysis for stored calls",
	Long:  "Reloads ended standalone and merged calls from the database and replaces their analytics, one call at a time.",
	RunE:  runRegenerate,
}

func init() {
	regenerateCmd.Flags().IntVar(&regenerateLimit, "limit", 50, "Maximum number of calls to process")
	regenerateCmd.Flags().BoolVar(&regenerateSynthetic, "synthetic", false, "Skip the provider and write synthetic analytics")
	regenerateCmd.Flags().DurationVar(&regenerateDelay, "delay", 2*time.Second, "Pause between provider requests")
}

func runRegenerate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	ctx := cmd.Context()
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer store.Close()

	d := &analysis.Dispatcher{Timeout: cfg.AnalysisTimeout, Logger: logger}
	if !regenerateSynthetic {
		analyzer, err := analysis.NewAnalyzer(cfg.AnalysisConfig())
		if err != nil {
			return err
		}
		d.Analyzer = analyzer
		d.Audio = &convai.Client{BaseURL: cfg.ConvAIBaseURL, APIKey: cfg.ConvAIAPIKey}
	}

	calls, err := store.ListCallsForReanalysis(ctx, regenerateLimit)
	if err != nil {
		return err
	}
	n := regenerate(ctx, cmd.OutOrStdout(), store, d, calls, regenerateSynthetic, regenerateDelay, logger)
	logger.Info().Int("calls", len(calls)).Int("saved", n).Msg("analytics regenerated")
	return nil
}

type analyticsSaver interface {
	SaveAnalytics(ctx context.Context, a models.Analytics) error
}

// regenerate processes calls sequentially and returns how many results were saved.
func regenerate(ctx context.Context, w io.Writer, store analyticsSaver, d *analysis.Dispatcher, calls []models.CallRecord, synthetic bool, delay time.Duration, logger zerolog.Logger) int {
	saved := 0
	for i, call := range calls {
		if ctx.Err() != nil {
			break
		}
		var a models.Analytics
		if synthetic {
			a = d.Synthetic(call)
		} else {
			a = d.Analyze(ctx, call)
		}
		if err := store.SaveAnalytics(ctx, a); err != nil {
			logger.Warn().Err(err).Str("call_id", call.ID).Msg("save analytics failed")
			continue
		}
		saved++
		fmt.Fprintf(w, "%s\t%s\t%s\tsatisfaction=%.1f\n", call.ID, a.Source, a.Sentiment.Overall, a.CustomerSatisfaction)

		if !synthetic && delay > 0 && i < len(calls)-1 {
			select {
			case <-ctx.Done():
				return saved
			case <-time.After(delay):
			}
		}
	}
	return saved
}
