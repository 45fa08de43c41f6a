package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ari/llm-ledger/internal/config"
	"github.com/ari/llm-ledger/internal/logging"
	"github.com/ari/llm-ledger/internal/pricing"
	"github.com/ari/llm-ledger/internal/tracker"
	"github.com/ari/llm-ledger/internal/ui"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	cfg     *config.Config
	logger  *slog.Logger
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "llm-ledger",
		Short: "Track LLM call cost and latency",
		Long: `A CLI tool to record LLM API calls, estimate their cost from a pricing
table, and report per-agent cost and latency figures.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip config loading for help command
			if cmd.Name() == "help" {
				return nil
			}
			var err error
			cfg, err = config.LoadConfig(cfgPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err = logging.New(cfg.Logging, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to config file (default: ~/.llm-ledger/config.toml)")
	rootCmd.AddCommand(newInfoCmd())
	rootCmd.AddCommand(newEstimateCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newAskCmd())
	return rootCmd
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show loaded configuration and pricing table",
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := cfg.PricingTable()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			source := cfg.Path()
			if source == "" {
				source = "(defaults)"
			}
			archive := cfg.GetArchivePath()
			if archive == "" {
				archive = "(disabled)"
			}

			fmt.Fprintf(out, "Config loaded:\n")
			fmt.Fprintf(out, "  File:    %s\n", source)
			fmt.Fprintf(out, "  Archive: %s\n", archive)
			fmt.Fprintf(out, "  Server:  %s\n", cfg.Server.Addr)
			fmt.Fprintf(out, "  Logging: %s/%s\n", cfg.Logging.Level, cfg.Logging.Format)
			fmt.Fprintf(out, "  Model:   %s\n", cfg.OpenAI.Model)

			if err := printArchiveStatus(cmd, out); err != nil {
				return err
			}

			fmt.Fprintf(out, "\nPricing (USD per 1K tokens, first match wins):\n")
			fmt.Fprintf(out, "  %-20s %12s %12s\n", "Prefix", "Prompt", "Completion")
			for _, r := range table.Rates {
				fmt.Fprintf(out, "  %-20s %12g %12g\n", r.Prefix, r.PromptPer1K, r.CompletionPer1K)
			}
			fmt.Fprintf(out, "  %-20s %12g %12g\n", "(fallback)", table.Fallback.PromptPer1K, table.Fallback.CompletionPer1K)

			for _, r := range table.UnderBilled() {
				ui.Warn(fmt.Sprintf("rate %q is more expensive than the fallback", r.Prefix))
			}
			return nil
		},
	}
}

func newEstimateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "estimate <model> <prompt-tokens> <completion-tokens>",
		Short: "Estimate the cost of a call",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := parseTokens(args[1])
			if err != nil {
				return err
			}
			completion, err := parseTokens(args[2])
			if err != nil {
				return err
			}

			table, err := cfg.PricingTable()
			if err != nil {
				return err
			}
			rate, matched := table.Lookup(args[0])
			prefix := rate.Prefix
			if !matched {
				prefix = "(fallback)"
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Model:  %s\n", args[0])
			fmt.Fprintf(out, "Rate:   %s (%g / %g per 1K)\n", prefix, rate.PromptPer1K, rate.CompletionPer1K)
			fmt.Fprintf(out, "Tokens: %s (prompt: %s, completion: %s)\n",
				ui.FormatCount(prompt+completion), ui.FormatCount(prompt), ui.FormatCount(completion))
			fmt.Fprintf(out, "Cost:   %s\n", ui.FormatCost(rate.Cost(prompt, completion)))
			return nil
		},
	}
}

func parseTokens(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid token count %q: %w", raw, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid token count %q: must not be negative", raw)
	}
	return n, nil
}

// newLedger builds a ledger priced by a resolver over the configured table
func newLedger() (*tracker.Ledger, *pricing.Resolver, error) {
	table, err := cfg.PricingTable()
	if err != nil {
		return nil, nil, err
	}
	warnUnderBilled(table)
	resolver := pricing.NewResolver(table)
	return tracker.NewLedger(resolver), resolver, nil
}

func warnUnderBilled(table pricing.Table) {
	for _, r := range table.UnderBilled() {
		logger.Warn("pricing rate exceeds fallback; unknown models may be under-billed",
			"prefix", r.Prefix,
			"prompt_per_1k", r.PromptPer1K,
			"completion_per_1k", r.CompletionPer1K)
	}
}

// printArchiveStatus shows the archived call count and the last export.
// An archive file that does not exist yet is reported, not created.
func printArchiveStatus(cmd *cobra.Command, out io.Writer) error {
	path := cfg.GetArchivePath()
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(out, "  Archived: none yet\n")
		return nil
	}

	db, err := tracker.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	count, err := db.CountCalls(ctx, "")
	if err != nil {
		return err
	}
	ts, runID, err := db.GetLastArchiveTime(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "  Archived: %s calls\n", ui.FormatCount(int(count)))
	if ts.IsZero() {
		fmt.Fprintf(out, "  Last archived: never\n")
	} else {
		fmt.Fprintf(out, "  Last archived: %s (run %s)\n", ui.FormatSince(ts), runID)
	}
	return nil
}

// openArchive opens the configured archive, creating its directory
func openArchive() (*tracker.DB, error) {
	path := cfg.GetArchivePath()
	if path == "" {
		return nil, tracker.ErrNoArchive
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return tracker.Open(path)
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		ui.Error(err.Error())
		os.Exit(1)
	}
}
