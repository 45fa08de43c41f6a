package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ari/llm-ledger/internal/config"
	"github.com/ari/llm-ledger/internal/metrics"
	"github.com/ari/llm-ledger/internal/pricing"
	"github.com/ari/llm-ledger/internal/server"
	"github.com/ari/llm-ledger/internal/tracker"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve [call-log.jsonl...]",
		Short: "Serve the ledger over HTTP with Prometheus metrics",
		Long: `Start the dashboard API. Producers POST calls to /v1/calls; summaries and
per-agent observability are served under /v1 and Prometheus metrics on
/metrics. Call logs given as arguments are replayed before serving. The
pricing table is reloaded when the config file changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ledger, resolver, err := newLedger()
			if err != nil {
				return err
			}
			for _, path := range args {
				n, err := tracker.ReplayCallLog(ledger, path)
				if err != nil {
					return fmt.Errorf("failed to replay %s: %w", path, err)
				}
				logger.Info("replayed call log", "path", path, "count", n)
			}

			reg, err := metrics.NewRegistry(ledger)
			if err != nil {
				return fmt.Errorf("failed to register metrics: %w", err)
			}
			srv := server.New(ledger, reg, logger)

			db, err := openArchive()
			switch {
			case errors.Is(err, tracker.ErrNoArchive):
				logger.Info("archive disabled")
			case err != nil:
				return err
			default:
				defer db.Close()
				archiver := tracker.NewArchiver(db, logger)
				defer func() {
					archiver.Close()
					if n := archiver.Dropped(); n > 0 {
						logger.Warn("archive queue overflowed; calls kept in memory only",
							"run_id", archiver.RunID(),
							"dropped", n)
					}
				}()
				srv.SetArchive(archiver)
				logger.Info("archiving calls", "path", cfg.GetArchivePath(), "run_id", archiver.RunID())
			}

			watchPricing(resolver)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx, cfg.Server)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (overrides server.addr)")
	return cmd
}

// watchPricing reloads resolver whenever the config file changes
func watchPricing(resolver *pricing.Resolver) {
	err := cfg.OnChange(func(next *config.Config) {
		table, err := next.PricingTable()
		if err != nil {
			logger.Error("ignoring pricing reload", "error", err)
			return
		}
		warnUnderBilled(table)
		resolver.Reload(table)
		logger.Info("pricing reloaded", "rates", len(table.Rates))
	}, func(err error) {
		logger.Error("ignoring config reload", "error", err)
	})
	if err != nil {
		logger.Debug("pricing hot reload disabled", "reason", err)
	}
}
