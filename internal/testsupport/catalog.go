package testsupport

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"kometaai/internal/catalog"
	"kometaai/internal/services"
)

// FakeCatalog is an in-memory catalog.Service.
type FakeCatalog struct {
	mu      sync.Mutex
	items   map[int]catalog.Item
	order   []int
	tags    []catalog.Tag
	nextTag int

	// FailAdd makes AddTag fail for the listed item IDs.
	FailAdd map[int]error

	Adds    int
	Removes int
	Creates int
	Deletes int
}

var (
	_ catalog.Service    = (*FakeCatalog)(nil)
	_ catalog.TagDeleter = (*FakeCatalog)(nil)
)

// NewFakeCatalog seeds a fake with items and tags.
func NewFakeCatalog(items []catalog.Item, tags []catalog.Tag) *FakeCatalog {
	f := &FakeCatalog{items: make(map[int]catalog.Item), nextTag: 1}
	for _, item := range items {
		f.items[item.ID] = cloneItem(item)
		f.order = append(f.order, item.ID)
	}
	for _, tag := range tags {
		f.tags = append(f.tags, tag)
		if tag.ID >= f.nextTag {
			f.nextTag = tag.ID + 1
		}
	}
	return f
}

func (f *FakeCatalog) ListItems(context.Context) ([]catalog.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]catalog.Item, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, cloneItem(f.items[id]))
	}
	return out, nil
}

func (f *FakeCatalog) GetItem(_ context.Context, id int) (catalog.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return catalog.Item{}, services.Wrap(services.ErrNotFound, "fake", "get item", fmt.Sprint(id), nil)
	}
	return cloneItem(item), nil
}

func (f *FakeCatalog) ListTags(context.Context) ([]catalog.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]catalog.Tag(nil), f.tags...), nil
}

func (f *FakeCatalog) CreateTag(_ context.Context, label string) (catalog.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tag := catalog.Tag{ID: f.nextTag, Label: label}
	f.nextTag++
	f.tags = append(f.tags, tag)
	f.Creates++
	return tag, nil
}

func (f *FakeCatalog) AddTag(_ context.Context, itemID, tagID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailAdd[itemID]; err != nil {
		return err
	}
	item, ok := f.items[itemID]
	if !ok {
		return services.Wrap(services.ErrNotFound, "fake", "add tag", fmt.Sprint(itemID), nil)
	}
	f.Adds++
	if !slices.Contains(item.Tags, tagID) {
		item.Tags = append(item.Tags, tagID)
		f.items[itemID] = item
	}
	return nil
}

func (f *FakeCatalog) RemoveTag(_ context.Context, itemID, tagID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	if !ok {
		return services.Wrap(services.ErrNotFound, "fake", "remove tag", fmt.Sprint(itemID), nil)
	}
	f.Removes++
	item.Tags = slices.DeleteFunc(item.Tags, func(id int) bool { return id == tagID })
	f.items[itemID] = item
	return nil
}

func (f *FakeCatalog) DeleteTag(_ context.Context, tagID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.tags)
	f.tags = slices.DeleteFunc(f.tags, func(t catalog.Tag) bool { return t.ID == tagID })
	if len(f.tags) == before {
		return services.Wrap(services.ErrNotFound, "fake", "delete tag", fmt.Sprint(tagID), nil)
	}
	f.Deletes++
	return nil
}

// SetItem replaces an item, keeping its position.
func (f *FakeCatalog) SetItem(item catalog.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[item.ID]; !ok {
		f.order = append(f.order, item.ID)
	}
	f.items[item.ID] = cloneItem(item)
}

// Members returns the sorted IDs of items carrying tagID.
func (f *FakeCatalog) Members(tagID int) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for id, item := range f.items {
		if slices.Contains(item.Tags, tagID) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func cloneItem(item catalog.Item) catalog.Item {
	item.Tags = append([]int(nil), item.Tags...)
	item.Genres = append([]string(nil), item.Genres...)
	item.AlternativeTitles = append([]string(nil), item.AlternativeTitles...)
	return item
}
