package tags

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"kometaai/internal/catalog"
	"kometaai/internal/logging"
)

// Orphan is a managed tag that no configured collection owns.
type Orphan struct {
	Tag   catalog.Tag
	Items []int
}

// Orphans returns the managed tags whose label matches none of
// collectionNames, each with the sorted IDs of the items carrying it.
func Orphans(all []catalog.Tag, items []catalog.Item, collectionNames []string) []Orphan {
	owned := make(map[string]bool, len(collectionNames))
	for _, name := range collectionNames {
		owned[strings.ToLower(Label(name))] = true
	}
	var out []Orphan
	for _, tag := range all {
		if !IsManaged(tag.Label) || owned[strings.ToLower(tag.Label)] {
			continue
		}
		o := Orphan{Tag: tag}
		for _, item := range items {
			if item.HasTag(tag.ID) {
				o.Items = append(o.Items, item.ID)
			}
		}
		slices.Sort(o.Items)
		out = append(out, o)
	}
	slices.SortFunc(out, func(a, b Orphan) int { return strings.Compare(a.Tag.Label, b.Tag.Label) })
	return out
}

// Cleanup detaches every orphan from its items and then deletes the tag
// definition. The first failure stops the sweep and is returned with the
// changes already applied.
func (m *Manager) Cleanup(ctx context.Context, deleter catalog.TagDeleter, orphans []Orphan, items []catalog.Item) ([]Change, error) {
	index := catalog.Index(items)
	var changes []Change
	for _, o := range orphans {
		for _, id := range o.Items {
			if err := m.service.RemoveTag(ctx, id, o.Tag.ID); err != nil {
				return changes, fmt.Errorf("remove tag %s from item %d: %w", o.Tag.Label, id, err)
			}
			changes = append(changes, Change{ItemID: id, Title: index[id].Title, Action: ActionRemoved, Tag: o.Tag.Label})
		}
		if err := deleter.DeleteTag(ctx, o.Tag.ID); err != nil {
			return changes, fmt.Errorf("delete tag %s: %w", o.Tag.Label, err)
		}
		m.mu.Lock()
		delete(m.cache, strings.ToLower(o.Tag.Label))
		m.mu.Unlock()
		m.logger.Info("deleted orphaned tag",
			logging.String("tag", o.Tag.Label),
			logging.Int("tag_id", o.Tag.ID),
			logging.Int("detached", len(o.Items)),
		)
	}
	return changes, nil
}
