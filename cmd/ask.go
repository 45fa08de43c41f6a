package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ari/llm-ledger/internal/invoke"
	"github.com/ari/llm-ledger/internal/tracker"
	"github.com/ari/llm-ledger/internal/ui"
	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	var (
		model          string
		provider       string
		conversationID string
		timeout        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ask <caller> <prompt>",
		Short: "Send a prompt to an OpenAI-compatible endpoint and record the call",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.OpenAI.APIKey == "" && cfg.OpenAI.BaseURL == "" {
				return errors.New("openai.api_key is not set (or set openai.base_url for a local endpoint)")
			}
			if model == "" {
				model = cfg.OpenAI.Model
			}

			ledger, _, err := newLedger()
			if err != nil {
				return err
			}
			client := invoke.NewOpenAI(invoke.Config{
				APIKey:   cfg.OpenAI.APIKey,
				BaseURL:  cfg.OpenAI.BaseURL,
				Provider: provider,
			}, ledger, logger)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			answer, askErr := client.Ask(ctx, args[0], conversationID, model, args[1])
			if askErr == nil {
				fmt.Fprintln(out, answer)
			}

			ui.DisplaySummary(out, "Call", ledger.SessionSummary())

			if err := archiveCall(cmd.Context(), ledger); err != nil {
				ui.Error(fmt.Sprintf("Error archiving call: %v", err))
			}
			return askErr
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Model to call (default: openai.model)")
	cmd.Flags().StringVarP(&provider, "provider", "p", "openai", "Provider name recorded with the call")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id recorded with the call")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Request timeout")
	return cmd
}

// archiveCall exports the ledger when an archive is configured
func archiveCall(ctx context.Context, ledger *tracker.Ledger) error {
	db, err := openArchive()
	if errors.Is(err, tracker.ErrNoArchive) {
		return nil
	}
	if err != nil {
		return err
	}
	defer db.Close()

	runID, err := tracker.ExportSnapshot(ctx, ledger, db)
	if err != nil {
		return err
	}
	logger.Debug("call archived", "run_id", runID)
	return nil
}
