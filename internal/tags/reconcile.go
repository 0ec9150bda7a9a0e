package tags

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"kometaai/internal/catalog"
	"kometaai/internal/logging"
)

// Action is the kind of membership change applied to an item.
type Action string

const (
	ActionAdded   Action = "added"
	ActionRemoved Action = "removed"
)

// Change records one membership mutation.
type Change struct {
	ItemID     int
	Title      string
	Collection string
	Action     Action
	Tag        string
}

// Manager resolves collection tags and applies membership changes through a
// catalog backend.
type Manager struct {
	service catalog.Service
	logger  *slog.Logger

	mu     sync.Mutex
	cache  map[string]catalog.Tag
	loaded bool
}

// NewManager returns a Manager backed by service.
func NewManager(service catalog.Service, logger *slog.Logger) *Manager {
	return &Manager{
		service: service,
		logger:  logging.NewComponentLogger(logger, "tags"),
		cache:   make(map[string]catalog.Tag),
	}
}

// Refresh reloads the tag cache from the catalog.
func (m *Manager) Refresh(ctx context.Context) error {
	tags, err := m.service.ListTags(ctx)
	if err != nil {
		return fmt.Errorf("list tags: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]catalog.Tag, len(tags))
	for _, tag := range tags {
		m.cache[strings.ToLower(tag.Label)] = tag
	}
	m.loaded = true
	return nil
}

// Lookup returns the cached tag for label without creating it.
func (m *Manager) Lookup(ctx context.Context, label string) (catalog.Tag, bool, error) {
	if err := m.ensureLoaded(ctx); err != nil {
		return catalog.Tag{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tag, ok := m.cache[strings.ToLower(label)]
	return tag, ok, nil
}

// CollectionTag returns the tag for collectionName, creating it on first use.
func (m *Manager) CollectionTag(ctx context.Context, collectionName string) (catalog.Tag, error) {
	label := Label(collectionName)
	tag, ok, err := m.Lookup(ctx, label)
	if err != nil {
		return catalog.Tag{}, err
	}
	if ok {
		return tag, nil
	}
	tag, err = m.service.CreateTag(ctx, label)
	if err != nil {
		return catalog.Tag{}, fmt.Errorf("create tag %q: %w", label, err)
	}
	m.logger.Info("created collection tag",
		logging.String(logging.FieldCollection, collectionName),
		logging.String("tag", tag.Label),
		logging.Int("tag_id", tag.ID),
	)
	m.mu.Lock()
	m.cache[strings.ToLower(tag.Label)] = tag
	m.mu.Unlock()
	return tag, nil
}

func (m *Manager) ensureLoaded(ctx context.Context) error {
	m.mu.Lock()
	loaded := m.loaded
	m.mu.Unlock()
	if loaded {
		return nil
	}
	return m.Refresh(ctx)
}

// Plan computes the membership diff without touching the catalog.
func Plan(tagID int, desired []int, items []catalog.Item) (toAdd, toRemove []int) {
	want := make(map[int]struct{}, len(desired))
	for _, id := range desired {
		want[id] = struct{}{}
	}
	present := make(map[int]struct{}, len(items))
	for _, item := range items {
		present[item.ID] = struct{}{}
		_, wanted := want[item.ID]
		has := item.HasTag(tagID)
		switch {
		case wanted && !has:
			toAdd = append(toAdd, item.ID)
		case !wanted && has:
			toRemove = append(toRemove, item.ID)
		}
	}
	slices.Sort(toAdd)
	slices.Sort(toRemove)
	return toAdd, toRemove
}

// Reconcile makes the set of items carrying tag equal desired. Desired IDs
// missing from items are ignored. The first catalog write failure aborts and
// is returned alongside the changes already applied.
func (m *Manager) Reconcile(ctx context.Context, collectionName string, tag catalog.Tag, desired []int, items []catalog.Item) ([]Change, error) {
	toAdd, toRemove := Plan(tag.ID, desired, items)
	if len(toAdd) == 0 && len(toRemove) == 0 {
		m.logger.Debug("membership already in sync", logging.String(logging.FieldCollection, collectionName))
		return nil, nil
	}
	index := catalog.Index(items)

	changes := make([]Change, 0, len(toAdd)+len(toRemove))
	for _, id := range toAdd {
		if err := m.service.AddTag(ctx, id, tag.ID); err != nil {
			return changes, fmt.Errorf("add tag %s to item %d: %w", tag.Label, id, err)
		}
		changes = append(changes, Change{ItemID: id, Title: index[id].Title, Collection: collectionName, Action: ActionAdded, Tag: tag.Label})
	}
	for _, id := range toRemove {
		if err := m.service.RemoveTag(ctx, id, tag.ID); err != nil {
			return changes, fmt.Errorf("remove tag %s from item %d: %w", tag.Label, id, err)
		}
		changes = append(changes, Change{ItemID: id, Title: index[id].Title, Collection: collectionName, Action: ActionRemoved, Tag: tag.Label})
	}
	m.logger.Info("membership reconciled",
		logging.String(logging.FieldCollection, collectionName),
		logging.Int("added", len(toAdd)),
		logging.Int("removed", len(toRemove)),
	)
	return changes, nil
}
