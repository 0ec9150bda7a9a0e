package notifications

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"kometaai/internal/state"
)

// CollectionStats is the per-collection slice of a run summary.
type CollectionStats struct {
	Name          string
	Considered    int
	Processed     int
	FromCache     int
	Batches       int
	FailedBatches int
	Refined       int
	Included      int
	Excluded      int
	Added         int
	Removed       int
	InputTokens   int64
	OutputTokens  int64
	Cost          float64
	Error         string
}

// Summary describes one pipeline run.
type Summary struct {
	RunID       string
	Version     string
	Started     time.Time
	Finished    time.Time
	DryRun      bool
	Cancelled   bool
	Test        bool
	NextRun     time.Time
	Collections []CollectionStats
	Changes     []state.ChangeEntry
	Errors      []state.ErrorEntry
}

// HasChanges reports whether the run changed any tag.
func (s Summary) HasChanges() bool { return len(s.Changes) > 0 }

// HasErrors reports whether the run recorded an error.
func (s Summary) HasErrors() bool { return len(s.Errors) > 0 }

// TotalCost sums the per-collection cost.
func (s Summary) TotalCost() float64 {
	var total float64
	for _, c := range s.Collections {
		total += c.Cost
	}
	return total
}

// TotalTokens sums input and output tokens across collections.
func (s Summary) TotalTokens() int64 {
	var total int64
	for _, c := range s.Collections {
		total += c.InputTokens + c.OutputTokens
	}
	return total
}

// Subject is the one-line headline used for mail subjects and ntfy titles.
func (s Summary) Subject() string {
	if s.Test {
		return "Kometa-AI test notification"
	}
	parts := []string{plural(len(s.Changes), "change")}
	if s.HasErrors() {
		parts = append(parts, plural(len(s.Errors), "error"))
	}
	subject := "Kometa-AI: " + strings.Join(parts, ", ")
	if s.DryRun {
		subject += " (dry run)"
	}
	return subject
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// Markdown renders the summary body.
func (s Summary) Markdown() string {
	var b strings.Builder
	version := s.Version
	if version == "" {
		version = "unknown"
	}
	fmt.Fprintf(&b, "# Kometa-AI Summary (v%s)\n\n", version)

	b.WriteString("## Overview\n\n")
	if s.Test {
		b.WriteString("- This is a test notification\n")
	}
	if s.RunID != "" {
		fmt.Fprintf(&b, "- Run: %s\n", s.RunID)
	}
	if !s.Started.IsZero() {
		fmt.Fprintf(&b, "- Started: %s\n", s.Started.Format("2006-01-02 15:04:05"))
		if !s.Finished.IsZero() {
			fmt.Fprintf(&b, "- Duration: %s\n", s.Finished.Sub(s.Started).Round(time.Second))
		}
	}
	fmt.Fprintf(&b, "- Total changes: %d\n", len(s.Changes))
	fmt.Fprintf(&b, "- Errors: %d\n", len(s.Errors))
	if s.DryRun {
		b.WriteString("- Dry run: tags were not modified\n")
	}
	if s.Cancelled {
		b.WriteString("- Run was cancelled before completion\n")
	}
	if !s.NextRun.IsZero() {
		fmt.Fprintf(&b, "- Next scheduled run: %s\n", s.NextRun.Format("2006-01-02 15:04:05"))
	}
	b.WriteString("\n")

	if s.HasChanges() {
		b.WriteString("## Changes by Collection\n\n")
		writeChanges(&b, s.Changes)
	} else {
		b.WriteString("## Changes\n\nNo changes were made in this run\n\n")
	}

	b.WriteString("## Errors\n\n")
	if s.HasErrors() {
		writeErrors(&b, s.Errors)
	} else {
		b.WriteString("No errors encountered\n\n")
	}

	if len(s.Collections) > 0 {
		b.WriteString("## Processing Statistics\n\n")
		writeStats(&b, s)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeChanges(b *strings.Builder, changes []state.ChangeEntry) {
	caser := cases.Title(language.English)
	var order []string
	grouped := make(map[string]map[string][]state.ChangeEntry)
	for _, c := range changes {
		byAction, ok := grouped[c.Collection]
		if !ok {
			byAction = make(map[string][]state.ChangeEntry)
			grouped[c.Collection] = byAction
			order = append(order, c.Collection)
		}
		byAction[c.Action] = append(byAction[c.Action], c)
	}
	for _, name := range order {
		fmt.Fprintf(b, "### %s\n\n", name)
		for _, action := range []string{"added", "removed"} {
			entries := grouped[name][action]
			if len(entries) == 0 {
				continue
			}
			fmt.Fprintf(b, "**%s**: %d\n", caser.String(action), len(entries))
			for _, e := range entries {
				fmt.Fprintf(b, "- %s (%d)\n", e.Title, e.ItemID)
			}
			b.WriteString("\n")
		}
	}
}

func writeErrors(b *strings.Builder, errs []state.ErrorEntry) {
	var order []string
	grouped := make(map[string][]state.ErrorEntry)
	for _, e := range errs {
		ctx := e.Context
		if ctx == "" {
			ctx = "unknown"
		}
		if _, ok := grouped[ctx]; !ok {
			order = append(order, ctx)
		}
		grouped[ctx] = append(grouped[ctx], e)
	}
	for _, ctx := range order {
		fmt.Fprintf(b, "### %s\n\n", ctx)
		for _, e := range grouped[ctx] {
			day, _, _ := strings.Cut(e.Timestamp, "T")
			fmt.Fprintf(b, "- %s: %s\n", day, e.Message)
		}
		b.WriteString("\n")
	}
}

func writeStats(b *strings.Builder, s Summary) {
	processed := 0
	for _, c := range s.Collections {
		processed += c.Processed
	}
	b.WriteString("### Summary\n")
	fmt.Fprintf(b, "- Total processed: %d movies\n", processed)
	fmt.Fprintf(b, "- Collections processed: %d\n", len(s.Collections))
	fmt.Fprintf(b, "- Total tokens: %d\n", s.TotalTokens())
	fmt.Fprintf(b, "- Total cost: $%.4f\n\n", s.TotalCost())

	for _, c := range s.Collections {
		fmt.Fprintf(b, "### %s\n", c.Name)
		fmt.Fprintf(b, "- Processed: %d movies\n", c.Processed)
		fmt.Fprintf(b, "- From cache: %d movies\n", c.FromCache)
		fmt.Fprintf(b, "- Included: %d, excluded: %d\n", c.Included, c.Excluded)
		if c.Refined > 0 {
			fmt.Fprintf(b, "- Refined: %d\n", c.Refined)
		}
		if c.FailedBatches > 0 {
			fmt.Fprintf(b, "- Failed batches: %d of %d\n", c.FailedBatches, c.Batches)
		}
		if c.Error != "" {
			fmt.Fprintf(b, "- Error: %s\n", c.Error)
		}
		fmt.Fprintf(b, "- API cost: $%.4f\n\n", c.Cost)
	}
}

// TestSummary is the summary sent by the test-notify command.
func TestSummary(version string, now time.Time) Summary {
	return Summary{
		RunID:    "test",
		Version:  version,
		Started:  now,
		Finished: now,
		Test:     true,
	}
}
