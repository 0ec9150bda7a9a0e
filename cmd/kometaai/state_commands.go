package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"kometaai/internal/state"
)

func newStateCommand(ctx *commandContext) *cobra.Command {
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and manage the decision store",
	}

	stateCmd.AddCommand(newStateDumpCommand(ctx))
	stateCmd.AddCommand(newStateResetCommand(ctx))
	stateCmd.AddCommand(newStateValidateCommand(ctx))
	return stateCmd
}

func newStateDumpCommand(ctx *commandContext) *cobra.Command {
	var asTable bool

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the stored state",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := ctx.openStore()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !asTable {
				data, err := store.Dump()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			changes := store.Changes()
			if len(changes) == 0 {
				fmt.Fprintln(out, "No recorded changes")
			} else {
				rows := make([][]string, 0, len(changes))
				for _, c := range changes {
					rows = append(rows, []string{c.Timestamp, c.Collection, c.Action, strconv.Itoa(c.ItemID), c.Title})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Time", "Collection", "Action", "Item", "Title"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
			}
			errs := store.Errors()
			if len(errs) > 0 {
				rows := make([][]string, 0, len(errs))
				for _, e := range errs {
					rows = append(rows, []string{e.Timestamp, e.Context, e.Message})
				}
				fmt.Fprintln(out, renderTable([]string{"Time", "Context", "Error"}, rows, nil))
			}
			if backups := store.Backups(); len(backups) > 0 {
				fmt.Fprintf(out, "Backups (%d, oldest first):\n", len(backups))
				for _, path := range backups {
					fmt.Fprintf(out, "  %s\n", path)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asTable, "table", false, "Show recent changes and errors as tables")
	return cmd
}

func newStateResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard every stored decision, change and error",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := ctx.openStore()
			if err != nil {
				return err
			}
			if err := store.Reset(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "State reset at %s\n", store.Path())
			return nil
		},
	}
}

func newStateValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the state file for structural problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := state.New(cfg.Paths.StateDir, nil).Path()
			issues := state.ValidateFile(path)
			out := cmd.OutOrStdout()
			if len(issues) == 0 {
				fmt.Fprintf(out, "State file valid: %s\n", path)
				return nil
			}
			for _, issue := range issues {
				fmt.Fprintf(out, "- %s\n", issue)
			}
			return fmt.Errorf("state file %s has %d issue(s)", path, len(issues))
		},
	}
}
