package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"kometaai/internal/catalog"
	"kometaai/internal/collections"
	"kometaai/internal/config"
	"kometaai/internal/services"
	"kometaai/internal/services/radarr"
	"kometaai/internal/tags"
)

func newTagsCommand(ctx *commandContext) *cobra.Command {
	tagsCmd := &cobra.Command{
		Use:   "tags",
		Short: "Inspect and clean up KAI- tags in Radarr",
	}
	tagsCmd.AddCommand(newTagsListCommand(ctx))
	tagsCmd.AddCommand(newTagsCleanupCommand(ctx))
	return tagsCmd
}

// tagInventory is the Radarr snapshot shared by the tags subcommands.
type tagInventory struct {
	client  *radarr.Client
	manager *tags.Manager
	tags    []catalog.Tag
	items   []catalog.Item
	owners  map[string]string
	orphans []tags.Orphan
}

func loadTagInventory(cmd *cobra.Command, ctx *commandContext) (*tagInventory, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := ctx.ensureLogger()
	if err != nil {
		return nil, err
	}
	if err := requireRadarr(cfg); err != nil {
		return nil, err
	}
	defined, err := collections.NewParser(cfg.Paths.KometaConfigDir, logger).All()
	if err != nil {
		return nil, err
	}

	inv := &tagInventory{
		client: radarr.NewFromConfig(cfg, logger),
		owners: make(map[string]string, len(defined)),
	}
	inv.manager = tags.NewManager(inv.client, logger)
	names := make([]string, 0, len(defined))
	for _, c := range defined {
		names = append(names, c.Name)
		inv.owners[strings.ToLower(c.Tag())] = c.Name
	}
	if inv.tags, err = inv.client.ListTags(cmd.Context()); err != nil {
		return nil, err
	}
	if inv.items, err = inv.client.ListItems(cmd.Context()); err != nil {
		return nil, err
	}
	inv.orphans = tags.Orphans(inv.tags, inv.items, names)
	return inv, nil
}

func requireRadarr(cfg *config.Config) error {
	if cfg.Radarr.URL == "" || cfg.Radarr.APIKey == "" {
		return services.Wrap(services.ErrConfiguration, "config", "require radarr",
			"radarr.url and radarr.api_key (or RADARR_URL and RADARR_API_KEY) must be set", nil)
	}
	return nil
}

func newTagsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List KAI- tags with their owning collection and item count",
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := loadTagInventory(cmd, ctx)
			if err != nil {
				return err
			}
			counts := make(map[int]int)
			for _, item := range inv.items {
				for _, id := range item.Tags {
					counts[id]++
				}
			}
			var rows [][]string
			for _, tag := range inv.tags {
				if !tags.IsManaged(tag.Label) {
					continue
				}
				owner, ok := inv.owners[strings.ToLower(tag.Label)]
				if !ok {
					owner = "(orphaned)"
				}
				rows = append(rows, []string{tag.Label, strconv.Itoa(tag.ID), strconv.Itoa(counts[tag.ID]), owner})
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No KAI- tags in Radarr")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Tag", "ID", "Items", "Collection"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newTagsCleanupCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Detach and delete KAI- tags that no configured collection owns",
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := loadTagInventory(cmd, ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(inv.orphans) == 0 {
				fmt.Fprintln(out, "No orphaned KAI- tags")
				return nil
			}
			if dryRun {
				for _, o := range inv.orphans {
					fmt.Fprintf(out, "Would delete %s (id %d, %d items)\n", o.Tag.Label, o.Tag.ID, len(o.Items))
				}
				return nil
			}
			changes, err := inv.manager.Cleanup(cmd.Context(), inv.client, inv.orphans, inv.items)
			for _, c := range changes {
				fmt.Fprintf(out, "Removed %s from %s (%d)\n", c.Tag, c.Title, c.ItemID)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Deleted %d orphaned tag(s)\n", len(inv.orphans))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List orphaned tags without deleting them")
	return cmd
}
