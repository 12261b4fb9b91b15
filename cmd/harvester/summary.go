package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/Sternrassler/contrib-harvester/pkg/orchestrator"
)

// maxListed bounds the entity lists printed below the summary table.
const maxListed = 20

func renderSummary(w io.Writer, s orchestrator.Summary, runID string, elapsed time.Duration) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.SetTitle("Run " + runID)
	t.AppendHeader(table.Row{"Status", "Results"})

	for _, st := range orchestrator.Statuses {
		t.AppendRow(table.Row{string(st), s.Counts[st]})
	}
	if s.PersistErrors > 0 {
		t.AppendRow(table.Row{"persist errors", s.PersistErrors})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d entities in %s", s.Entities, elapsed.Round(time.Second)),
		s.Results,
	})
	t.Render()

	writeList(w, "Retry", s.RetryEntities)
	writeList(w, "Not found", s.NotFoundEntities)
}

func writeList(w io.Writer, label string, ids []string) {
	if len(ids) == 0 {
		return
	}
	shown := ids
	if len(shown) > maxListed {
		shown = shown[:maxListed]
	}
	line := strings.Join(shown, ", ")
	if rest := len(ids) - len(shown); rest > 0 {
		line += fmt.Sprintf(" (+%d more)", rest)
	}
	fmt.Fprintf(w, "%s (%d): %s\n", label, len(ids), line)
}
