package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ari/llm-ledger/internal/tracker"
	"github.com/ari/llm-ledger/internal/ui"
	"github.com/spf13/cobra"
)

type reportOptions struct {
	dir         string
	archive     bool
	fromArchive bool
	since       time.Duration
	asJSON      bool
}

// jsonReport is the --json output of report
type jsonReport struct {
	Session tracker.CostSummary            `json:"session"`
	Agents  []tracker.AgentObservability   `json:"agents"`
	Callers map[string]tracker.CostSummary `json:"callers,omitempty"`
	RunID   string                         `json:"archive_run_id,omitempty"`
}

func newReportCmd() *cobra.Command {
	var opts reportOptions

	cmd := &cobra.Command{
		Use:   "report [call-log.jsonl...]",
		Short: "Replay call logs and report cost and latency per agent",
		Long: `Replay one or more JSONL call logs into a fresh ledger and print the
session summary and per-agent observability. Use --from-archive to load
previously archived calls instead of, or in addition to, call logs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.dir, "dir", "d", "", "Replay every *.jsonl call log in this directory")
	cmd.Flags().BoolVar(&opts.archive, "archive", false, "Export the replayed calls to the configured archive")
	cmd.Flags().BoolVar(&opts.fromArchive, "from-archive", false, "Load calls from the configured archive")
	cmd.Flags().DurationVar(&opts.since, "since", 0, "With --from-archive, only load calls newer than this (e.g. 24h)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func runReport(cmd *cobra.Command, args []string, opts reportOptions) error {
	if opts.archive && opts.fromArchive {
		return errors.New("--archive and --from-archive cannot be combined")
	}
	if opts.since > 0 && !opts.fromArchive {
		return errors.New("--since requires --from-archive")
	}

	ledger, _, err := newLedger()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	paths := append([]string(nil), args...)
	if opts.dir != "" {
		found, err := tracker.FindCallLogs(opts.dir)
		if err != nil {
			return err
		}
		paths = append(paths, found...)
	}

	var db *tracker.DB
	if opts.archive || opts.fromArchive {
		db, err = openArchive()
		if err != nil {
			return err
		}
		defer db.Close()
	}

	if opts.fromArchive {
		var since time.Time
		if opts.since > 0 {
			since = time.Now().Add(-opts.since)
		}
		n, err := tracker.LoadArchive(ctx, ledger, db, since)
		if err != nil {
			return err
		}
		logger.Info("loaded archived calls", "count", n)
	}

	for _, path := range paths {
		n, err := tracker.ReplayCallLog(ledger, path)
		if err != nil {
			ui.Error(fmt.Sprintf("Error replaying %s: %v", path, err))
			continue
		}
		logger.Debug("replayed call log", "path", path, "count", n)
	}

	var runID string
	if opts.archive {
		runID, err = tracker.ExportSnapshot(ctx, ledger, db)
		if err != nil {
			return err
		}
	}

	report := ledger.ObservabilityReport()
	out := cmd.OutOrStdout()

	if opts.asJSON {
		callers := make(map[string]tracker.CostSummary, len(report))
		for _, name := range report.Names() {
			callers[name] = ledger.CallerSummary(name)
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(jsonReport{
			Session: ledger.SessionSummary(),
			Agents:  report.Sorted(),
			Callers: callers,
			RunID:   runID,
		})
	}

	ui.DisplayReport(out, ledger.SessionSummary(), report)
	if runID != "" {
		fmt.Fprintf(out, "Archived %s calls (run %s)\n", ui.FormatCount(ledger.Len()), runID)
	}
	return nil
}
