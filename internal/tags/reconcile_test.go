package tags_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"kometaai/internal/catalog"
	"kometaai/internal/logging"
	"kometaai/internal/tags"
	"kometaai/internal/testsupport"
)

func itemsWithTag(tagID int, ids []int, total int) []catalog.Item {
	items := make([]catalog.Item, 0, total)
	for id := 1; id <= total; id++ {
		item := catalog.Item{ID: id, Title: fmt.Sprintf("Movie %d", id), Tags: []int{99}}
		if slices.Contains(ids, id) {
			item.Tags = append(item.Tags, tagID)
		}
		items = append(items, item)
	}
	return items
}

func symmetricDiff(a, b []int) int {
	n := 0
	for _, x := range a {
		if !slices.Contains(b, x) {
			n++
		}
	}
	for _, x := range b {
		if !slices.Contains(a, x) {
			n++
		}
	}
	return n
}

func TestReconcileMakesMembershipEqualDesired(t *testing.T) {
	cases := []struct {
		name    string
		current []int
		desired []int
	}{
		{"empty to some", nil, []int{1, 3}},
		{"some to empty", []int{2, 4}, nil},
		{"overlap", []int{1, 2, 3}, []int{2, 3, 4, 5}},
		{"equal", []int{1, 5}, []int{5, 1}},
		{"disjoint", []int{1, 2}, []int{3, 4}},
	}
	const tagID = 10
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			items := itemsWithTag(tagID, tc.current, 6)
			fake := testsupport.NewFakeCatalog(items, []catalog.Tag{{ID: tagID, Label: "KAI-noir"}})
			mgr := tags.NewManager(fake, logging.NewNop())

			changes, err := mgr.Reconcile(context.Background(), "Noir", catalog.Tag{ID: tagID, Label: "KAI-noir"}, tc.desired, items)
			if err != nil {
				t.Fatalf("Reconcile returned error: %v", err)
			}
			want := append([]int(nil), tc.desired...)
			slices.Sort(want)
			if got := fake.Members(tagID); !slices.Equal(got, want) {
				t.Fatalf("members = %v, want %v", got, want)
			}
			if len(changes) != symmetricDiff(tc.current, tc.desired) {
				t.Fatalf("got %d changes, want %d", len(changes), symmetricDiff(tc.current, tc.desired))
			}
			for _, ch := range changes {
				if ch.Collection != "Noir" || ch.Tag != "KAI-noir" || ch.Title == "" {
					t.Fatalf("unexpected change %+v", ch)
				}
			}
			for _, id := range fake.Members(99) {
				if id < 1 || id > 6 {
					t.Fatalf("unrelated tag disturbed: %v", fake.Members(99))
				}
			}
			if len(fake.Members(99)) != 6 {
				t.Fatal("unrelated tag should stay on every item")
			}
		})
	}
}

func TestReconcileNoopIssuesNoWrites(t *testing.T) {
	items := itemsWithTag(3, []int{1, 2}, 3)
	fake := testsupport.NewFakeCatalog(items, nil)
	mgr := tags.NewManager(fake, nil)
	changes, err := mgr.Reconcile(context.Background(), "X", catalog.Tag{ID: 3, Label: "KAI-x"}, []int{2, 1}, items)
	if err != nil || len(changes) != 0 {
		t.Fatalf("Reconcile = %v, %v", changes, err)
	}
	if fake.Adds+fake.Removes != 0 {
		t.Fatalf("expected no writes, got %d adds %d removes", fake.Adds, fake.Removes)
	}
}

func TestReconcileStopsOnWriteFailure(t *testing.T) {
	items := itemsWithTag(3, nil, 3)
	fake := testsupport.NewFakeCatalog(items, nil)
	boom := errors.New("boom")
	fake.FailAdd = map[int]error{2: boom}
	mgr := tags.NewManager(fake, nil)
	changes, err := mgr.Reconcile(context.Background(), "X", catalog.Tag{ID: 3, Label: "KAI-x"}, []int{1, 2, 3}, items)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(changes) != 1 || changes[0].ItemID != 1 {
		t.Fatalf("expected the applied change for item 1, got %+v", changes)
	}
}

func TestCollectionTagCreatesOnceAndCaches(t *testing.T) {
	fake := testsupport.NewFakeCatalog(nil, []catalog.Tag{{ID: 4, Label: "kai-film-noir"}})
	mgr := tags.NewManager(fake, nil)
	ctx := context.Background()

	tag, err := mgr.CollectionTag(ctx, "Film Noir")
	if err != nil || tag.ID != 4 {
		t.Fatalf("expected existing tag matched case-insensitively, got %+v, %v", tag, err)
	}
	heist1, err := mgr.CollectionTag(ctx, "Heist")
	if err != nil {
		t.Fatalf("CollectionTag returned error: %v", err)
	}
	heist2, _ := mgr.CollectionTag(ctx, "Heist")
	if heist1.ID != heist2.ID || fake.Creates != 1 {
		t.Fatalf("expected one creation, got %d (ids %d/%d)", fake.Creates, heist1.ID, heist2.ID)
	}
	if heist1.Label != "KAI-heist" {
		t.Fatalf("label = %q", heist1.Label)
	}
}

func TestPlanIgnoresUnknownDesiredIDs(t *testing.T) {
	items := itemsWithTag(1, []int{2}, 2)
	add, remove := tags.Plan(1, []int{1, 42}, items)
	if !slices.Equal(add, []int{1}) || !slices.Equal(remove, []int{2}) {
		t.Fatalf("Plan = %v / %v", add, remove)
	}
}
