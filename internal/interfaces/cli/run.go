package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	appingestion "github.com/erp/ingestor/internal/application/ingestion"
	"github.com/erp/ingestor/internal/application/report"
)

// Output formats of the run command.
const (
	formatTable = "table"
	formatJSON  = "json"
)

type runOptions struct {
	workflow   string
	entities   []string
	dryRun     bool
	delay      time.Duration
	summaryOut string
	metricsOut string
	format     string
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest metrics for a list of entities",
		Long: `Run one workflow over a list of entity keys, strictly one entity at a time.

Every entity produces exactly one result; a failing entity never stops the run.
The command exits with status 1 when any entity failed.`,
		Example: `  # Ingest two companies
  ingest run --workflow company_overview --entities AAA,BBB

  # Every known entity, without writing anything
  ingest run --entities all --dry-run

  # Export the summary and the metrics exposition
  ingest run --entities AAA --summary-out out/summary.json --metrics-out s3://reports/ingest.prom`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.workflow, "workflow", "w", "company_overview", "Workflow to run")
	cmd.Flags().StringSliceVarP(&opts.entities, "entities", "e", []string{appingestion.AllEntities}, `Comma-separated entity keys, or "all"`)
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Fetch and validate but write no facts and no run history")
	cmd.Flags().DurationVar(&opts.delay, "delay", 0, "Delay before every entity after the first (default runner.entity_delay)")
	cmd.Flags().StringVar(&opts.summaryOut, "summary-out", "", "Write the JSON summary to a path or s3://bucket/key (default report.summary_path)")
	cmd.Flags().StringVar(&opts.metricsOut, "metrics-out", "", "Write the metrics exposition to a path or s3://bucket/key (default report.metrics_path)")
	cmd.Flags().StringVarP(&opts.format, "output", "o", formatTable, "Output format (table|json)")

	_ = cmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{formatTable, formatJSON}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runRun(cmd *cobra.Command, opts *runOptions) error {
	if opts.format != formatTable && opts.format != formatJSON {
		return fmt.Errorf("unknown output format %q", opts.format)
	}

	ctx := cmd.Context()
	cfg := configFrom(ctx)

	delay := cfg.Runner.EntityDelay
	if cmd.Flags().Changed("delay") {
		if opts.delay < 0 {
			return fmt.Errorf("--delay cannot be negative")
		}
		delay = opts.delay
	}
	targets := report.Targets{SummaryPath: cfg.Report.SummaryPath, MetricsPath: cfg.Report.MetricsPath}
	if opts.summaryOut != "" {
		targets.SummaryPath = opts.summaryOut
	}
	if opts.metricsOut != "" {
		targets.MetricsPath = opts.metricsOut
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if err := a.openDatabase(); err != nil {
		return err
	}
	runner, err := a.newRunner(ctx, runnerSettings{targets: targets})
	if err != nil {
		return err
	}

	summary, err := runner.Run(ctx, opts.workflow, trimKeys(opts.entities), appingestion.RunOptions{
		DryRun:      opts.dryRun,
		EntityDelay: delay,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch opts.format {
	case formatJSON:
		data, err := report.EncodeSummary(summary)
		if err != nil {
			return err
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
	default:
		report.RenderTable(out, summary)
	}

	if summary.HasFailures() {
		return ErrRunFailed
	}
	return nil
}

func trimKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
