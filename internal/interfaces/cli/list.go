package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/erp/ingestor/internal/domain/ingestion"
)

func newTable(cmd *cobra.Command, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	return t
}

func newWorkflowsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "workflows",
		Short: "List configured workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), configFrom(cmd.Context()))
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			t := newTable(cmd, table.Row{"Workflow", "Function", "Identity", "Date field", "Metrics", "Entities"})
			for _, name := range a.registry.Names() {
				wf, err := a.registry.Get(name)
				if err != nil {
					return err
				}
				metrics := make([]string, 0, len(wf.Fields))
				for _, f := range wf.Fields {
					metrics = append(metrics, f.MetricType)
				}
				t.AppendRow(table.Row{
					wf.Name, wf.Function, wf.IdentityField, wf.DateField,
					strings.Join(metrics, ", "), strings.Join(wf.Entities, ", "),
				})
			}
			t.SetColumnConfigs([]table.ColumnConfig{{Number: 5, WidthMax: 60}})
			t.Render()
			return nil
		},
	}
}

func newEntitiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List known entity keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, configFrom(ctx))
			if err != nil {
				return err
			}
			defer a.close(ctx)
			if err := a.openDatabase(); err != nil {
				return err
			}

			keys, err := a.entities.ListExternalKeys(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				fmt.Fprintln(out, "No entities yet. Run `ingest run --entities KEY` to create some.")
				return nil
			}
			for _, k := range keys {
				fmt.Fprintln(out, k)
			}
			return nil
		},
	}
}

func newRunsCommand() *cobra.Command {
	var (
		workflow string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent run history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, configFrom(ctx))
			if err != nil {
				return err
			}
			defer a.close(ctx)
			if err := a.openDatabase(); err != nil {
				return err
			}

			runs, err := a.runs.RecentRuns(ctx, workflow, limit)
			if err != nil {
				return err
			}

			t := newTable(cmd, table.Row{"Run", "Workflow", "Started", "Status", "OK", "Failed", "Stored", "API calls", "Duration"})
			t.SetColumnConfigs([]table.ColumnConfig{
				{Number: 5, Align: text.AlignRight},
				{Number: 6, Align: text.AlignRight},
				{Number: 7, Align: text.AlignRight},
			})
			for _, r := range runs {
				t.AppendRow(table.Row{
					r.RunID, r.Workflow, r.StartedAt.Format(time.RFC3339), r.Status,
					r.CompaniesSucceeded, r.CompaniesFailed, r.MetricsStored, r.APICalls,
					r.Duration().Round(time.Millisecond),
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&workflow, "workflow", "w", "", "Only runs of this workflow")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to show")
	return cmd
}

func newFactsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "facts KEY",
		Short: "Show the stored metric facts of one entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, configFrom(ctx))
			if err != nil {
				return err
			}
			defer a.close(ctx)
			if err := a.openDatabase(); err != nil {
				return err
			}

			key := ingestion.NormalizeKey(args[0])
			entity, err := a.entities.FindByExternalKey(ctx, key)
			if errors.Is(err, ingestion.ErrEntityNotFound) {
				return fmt.Errorf("unknown entity %q", key)
			}
			if err != nil {
				return err
			}
			facts, err := a.facts.ListByEntity(ctx, entity.ID)
			if err != nil {
				return err
			}

			t := newTable(cmd, table.Row{"Metric", "Date", "Value", "Unit", "Period", "Source", "Updated"})
			t.SetTitle(fmt.Sprintf("%s (%s)", entity.ExternalKey, entity.DisplayName))
			t.SetColumnConfigs([]table.ColumnConfig{{Number: 3, Align: text.AlignRight}})
			for _, f := range facts {
				t.AppendRow(table.Row{
					f.MetricType, f.MetricDate.Format(time.DateOnly), f.Value.String(),
					f.Unit, f.PeriodType, f.Source, f.UpdatedAt.Format(time.RFC3339),
				})
			}
			t.Render()
			return nil
		},
	}
}
