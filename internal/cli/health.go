package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/callscope/backend/internal/analysis"
	"github.com/callscope/backend/internal/convai"
	"github.com/callscope/backend/internal/health"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the conversational vendor and analysis provider once",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		checker := health.NewChecker(logger)
		client := &convai.Client{BaseURL: cfg.ConvAIBaseURL, APIKey: cfg.ConvAIAPIKey}
		checker.Register("convai", client.CheckHealth)

		analyzer, err := analysis.NewAnalyzer(cfg.AnalysisConfig())
		if err != nil {
			logger.Warn().Err(err).Msg("analysis provider not configured")
		}
		if p, ok := analyzer.(analysis.Pinger); ok {
			checker.Register("analysis", p.Ping)
		} else {
			checker.Register("analysis", nil)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		return printHealth(cmd.OutOrStdout(), checker.Check(ctx))
	},
}

func printHealth(w io.Writer, r health.Report) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(b))
	if r.Overall == health.StatusUnhealthy {
		return errors.New("services unhealthy")
	}
	return nil
}
