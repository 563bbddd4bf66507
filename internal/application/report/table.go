package report

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/erp/ingestor/internal/domain/ingestion"
)

// RenderTable writes one row per entity followed by the run totals.
func RenderTable(w io.Writer, summary *ingestion.RunSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	style := table.StyleLight
	style.Format.Footer = text.FormatDefault
	t.SetStyle(style)
	t.SetTitle(fmt.Sprintf("%s run %s (%s)", summary.Workflow, summary.RunID, summary.Status))
	t.AppendHeader(table.Row{"Entity", "Result", "Stored", "Retries", "API calls", "Cache", "Duration", "Error"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 8, WidthMax: 60},
	})

	for _, r := range summary.Results {
		outcome := "ok"
		if !r.Success {
			outcome = r.Category().String()
		}
		cache := ""
		if r.CacheHit {
			cache = "hit"
		}
		t.AppendRow(table.Row{
			r.ExternalKey,
			outcome,
			r.MetricsStored,
			r.RetryCount,
			r.APICalls,
			cache,
			r.Duration.Round(time.Millisecond),
			r.ErrorMessage,
		})
	}
	for _, key := range summary.Skipped {
		t.AppendRow(table.Row{key, "skipped", "", "", "", "", "", ""})
	}

	t.AppendFooter(table.Row{
		fmt.Sprintf("%d/%d ok", summary.CompaniesSucceeded, summary.CompaniesProcessed),
		fmt.Sprintf("%.0f%%", summary.SuccessRate*100),
		summary.MetricsStored,
		summary.Retries,
		summary.APICalls,
		summary.CacheHits,
		summary.Duration().Round(time.Millisecond),
		"",
	})
	if summary.DryRun {
		t.SetCaption("dry run: no facts or run history were written")
	}
	t.Render()
}
