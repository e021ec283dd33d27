package cli

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/callscope/backend/internal/convai"
	"github.com/callscope/backend/internal/poller"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print recent vendor conversations as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		agents, err := convai.LoadAgentDirectory(cfg.AgentsFile)
		if err != nil {
			return err
		}
		client := &convai.Client{BaseURL: cfg.ConvAIBaseURL, APIKey: cfg.ConvAIAPIKey, Agents: agents}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		return printHistory(ctx, cmd.OutOrStdout(), client, historyLimit)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Number of conversations to fetch")
}

func printHistory(ctx context.Context, w io.Writer, src poller.Source, limit int) error {
	convs, err := src.ListConversations(ctx, limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(convs)
}
