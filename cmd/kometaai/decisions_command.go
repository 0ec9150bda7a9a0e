package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kometaai/internal/audit"
	"kometaai/internal/state"
)

func newDecisionsCommand(ctx *commandContext) *cobra.Command {
	var collection string
	var itemID int

	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Show stored classification decisions",
		Long: "Show stored decisions for a collection, or every stored decision and\n" +
			"refinement analysis for a single item with --item.",
		RunE: func(cmd *cobra.Command, args []string) error {
			collection = strings.TrimSpace(collection)
			if collection == "" && itemID <= 0 {
				return errors.New("specify --collection, --item, or both")
			}
			store, _, err := ctx.openStore()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if itemID <= 0 {
				decisions := store.Decisions(collection)
				if len(decisions) == 0 {
					fmt.Fprintf(out, "No decisions stored for %s\n", collection)
					return nil
				}
				fmt.Fprintln(out, decisionTable(decisions))
				return nil
			}

			var stored []state.Decision
			if collection != "" {
				if d, ok := store.Get(itemID, collection); ok {
					stored = append(stored, d)
				}
			} else {
				for _, d := range store.Decisions("") {
					if d.ItemID == itemID {
						stored = append(stored, d)
					}
				}
			}
			if len(stored) > 0 {
				fmt.Fprintln(out, decisionTable(stored))
				if hash, ok := store.ContentHash(itemID); ok {
					fmt.Fprintf(out, "Content hash: %s\n", hash)
				}
			} else {
				fmt.Fprintf(out, "No decisions stored for item %d\n", itemID)
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			analyses, err := itemAnalyses(cmd, cfg.Paths.StateDir, itemID)
			if err != nil {
				return err
			}
			shown := 0
			for _, a := range analyses {
				if collection != "" && !strings.EqualFold(a.Collection, collection) {
					continue
				}
				shown++
				fmt.Fprintf(out, "\n%s (run %s, %s)\n", a.Collection, a.RunID, a.CreatedAt.Format(time.RFC3339))
				fmt.Fprintf(out, "  Include: %s  Confidence: %.2f (was %.2f)\n", yesNo(a.Include), a.Confidence, a.PriorConfidence)
				if a.Reasoning != "" {
					fmt.Fprintf(out, "  Reasoning: %s\n", a.Reasoning)
				}
				if a.DetailedAnalysis != "" {
					fmt.Fprintf(out, "  Analysis:\n    %s\n", strings.ReplaceAll(strings.TrimSpace(a.DetailedAnalysis), "\n", "\n    "))
				}
			}
			if shown == 0 {
				fmt.Fprintf(out, "No refinement analyses recorded for item %d\n", itemID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&collection, "collection", "", "Collection name")
	cmd.Flags().IntVar(&itemID, "item", 0, "Radarr movie id")
	return cmd
}

func itemAnalyses(cmd *cobra.Command, stateDir string, itemID int) ([]audit.Analysis, error) {
	store, err := audit.OpenInDir(stateDir)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.ForItem(cmd.Context(), itemID)
}

func decisionTable(decisions []state.Decision) string {
	rows := make([][]string, 0, len(decisions))
	for _, d := range decisions {
		updated := ""
		if !d.Timestamp.IsZero() {
			updated = d.Timestamp.Format(time.RFC3339)
		}
		rows = append(rows, []string{
			strconv.Itoa(d.ItemID),
			yesNo(d.Include),
			fmt.Sprintf("%.2f", d.Confidence),
			d.Tag,
			updated,
			truncate(d.Reasoning, 60),
		})
	}
	return renderTable(
		[]string{"Item", "Include", "Confidence", "Tag", "Updated", "Reasoning"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
	)
}

func truncate(s string, limit int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit-1]) + "…"
}
