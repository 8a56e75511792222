// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/jonathan/storefront-agent/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stderr; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, clip(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// clip shortens s to n runes, marking the cut with "..."
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// PrintReport outputs the top opportunities of an analysis report.
func (p *Printer) PrintReport(report *types.Report) {
	if report == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Report: %s\n", report.ID))
	if report.Summary != "" {
		sb.WriteString(fmt.Sprintf("Summary: %s\n", report.Summary))
	}
	sb.WriteString("\n")

	if len(report.Opportunities) == 0 {
		sb.WriteString("No opportunities found")
		p.printBox("OPPORTUNITIES", sb.String())
		return
	}

	count := min(len(report.Opportunities), maxItemsToShow)
	for i := 0; i < count; i++ {
		opp := report.Opportunities[i]
		sb.WriteString(fmt.Sprintf("#%d  %s\n", i+1, opp.Title))
		sb.WriteString(fmt.Sprintf("    id: %s\n", opp.ID))
		sb.WriteString(fmt.Sprintf("    Niche: %s  Price: %.2f\n", opp.Niche, opp.SuggestedPrice))
		sb.WriteString(fmt.Sprintf("    Demand: %.2f  Competition: %.2f\n", opp.DemandScore, opp.CompetitionScore))
		if i < count-1 {
			sb.WriteString("\n")
		}
	}
	if len(report.Opportunities) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n... and %d more opportunities", len(report.Opportunities)-maxItemsToShow))
	}

	p.printBox("OPPORTUNITIES", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintEntity outputs an entity's listing fields and quality scores.
func (p *Printer) PrintEntity(e *types.Entity) {
	if e == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Title:    %s\n", e.Title))
	sb.WriteString(fmt.Sprintf("Status:   %s\n", e.Status))
	sb.WriteString(fmt.Sprintf("Price:    %.2f\n", e.Price))
	sb.WriteString(fmt.Sprintf("Attempts: %d\n", e.Attempts))
	if len(e.Tags) > 0 {
		sb.WriteString(fmt.Sprintf("Tags:     %s\n", strings.Join(e.Tags, ", ")))
	}
	if e.ListingURL != "" {
		sb.WriteString(fmt.Sprintf("Listing:  %s\n", e.ListingURL))
	}

	if q := e.QualityScores; q != nil {
		verdict := "✗ failed"
		if q.Passed {
			verdict = "✓ passed"
		}
		sb.WriteString(fmt.Sprintf("\nQuality %s\n", verdict))

		names := make([]string, 0, len(q.Scores))
		for name := range q.Scores {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			sb.WriteString(fmt.Sprintf("  • %-14s %.2f\n", name, q.Scores[name]))
		}
		if q.Feedback != "" {
			sb.WriteString(fmt.Sprintf("  %s\n", q.Feedback))
		}
	}

	p.printBox("ENTITY "+e.ID.String(), strings.TrimSuffix(sb.String(), "\n"))
}

// PrintReconcile outputs the counters of one reconciliation.
func (p *Printer) PrintReconcile(r types.ReconcileResult) {
	content := fmt.Sprintf("Inserted: %d\nSkipped:  %d\nErrors:   %d", r.Inserted, r.Skipped, r.Errors)
	p.printBox("SALES RECONCILIATION", content)
}
