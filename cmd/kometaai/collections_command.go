package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"kometaai/internal/collections"
)

func newCollectionsCommand(ctx *commandContext) *cobra.Command {
	var includeDisabled bool

	cmd := &cobra.Command{
		Use:   "collections",
		Short: "List AI-managed collections found in the Kometa config directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			parser := collections.NewParser(cfg.Paths.KometaConfigDir, logger)
			list, err := parser.All()
			if err != nil {
				return err
			}
			if !includeDisabled {
				list = collections.Enabled(list)
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintf(out, "No AI-managed collections in %s\n", cfg.Paths.KometaConfigDir)
				return nil
			}
			collections.Sort(list)

			rows := make([][]string, 0, len(list))
			for _, c := range list {
				refinement := "off"
				if c.UseIterativeRefinement {
					refinement = fmt.Sprintf("±%.2f", c.RefinementThreshold)
				}
				rows = append(rows, []string{
					c.Name,
					c.Tag(),
					yesNo(c.Enabled),
					fmt.Sprintf("%.2f", c.ConfidenceThreshold),
					strconv.Itoa(c.Priority),
					refinement,
					filepath.Base(c.Source),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Name", "Tag", "Enabled", "Threshold", "Priority", "Refinement", "Source"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&includeDisabled, "all", "a", false, "Include disabled collections")
	return cmd
}
