package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kometaai/internal/testsupport"
)

// tickingClock advances one second per call so every save gets a distinct
// backup name.
func tickingClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	return New(dir, nil, WithClock(tickingClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))), WithVersion("1.2.3"))
}

func TestLoadMissingFileStartsFresh(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	if got := store.Load(); got != LoadedFresh {
		t.Fatalf("Load() = %q, want %q", got, LoadedFresh)
	}
	if len(store.Decisions("")) != 0 {
		t.Fatal("expected empty state")
	}
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir)
	store.Load()
	store.Set(Decision{ItemID: 7, Collection: "Christmas", Include: true, Confidence: 0.9, ContentHash: "abc", Tag: "KAI-christmas", Reasoning: "holiday"})
	store.Set(Decision{ItemID: 7, Collection: "Film Noir", Include: false, Confidence: 0.1, ContentHash: "abc", Tag: "KAI-film-noir"})
	store.LogChange(ChangeEntry{ItemID: 7, Title: "Elf", Collection: "Christmas", Action: "added", Tag: "KAI-christmas"})
	store.LogError("collection:Christmas,batch:1", "boom")
	if err := store.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := newTestStore(t, dir)
	if got := reloaded.Load(); got != LoadedPrimary {
		t.Fatalf("Load() = %q, want %q", got, LoadedPrimary)
	}
	d, ok := reloaded.Get(7, "Christmas")
	if !ok {
		t.Fatal("decision missing after reload")
	}
	if !d.Include || d.Confidence != 0.9 || d.ContentHash != "abc" || d.Tag != "KAI-christmas" || d.Reasoning != "holiday" {
		t.Fatalf("unexpected decision %+v", d)
	}
	if d.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set")
	}
	if hash, ok := reloaded.ContentHash(7); !ok || hash != "abc" {
		t.Fatalf("ContentHash = %q, %v", hash, ok)
	}
	if got := len(reloaded.Decisions("")); got != 2 {
		t.Fatalf("Decisions(\"\") = %d entries, want 2", got)
	}
	if got := len(reloaded.Decisions("Film Noir")); got != 1 {
		t.Fatalf("Decisions(Film Noir) = %d entries, want 1", got)
	}
	if len(reloaded.Changes()) != 1 || len(reloaded.Errors()) != 1 {
		t.Fatalf("logs not persisted: %d changes, %d errors", len(reloaded.Changes()), len(reloaded.Errors()))
	}
	if reloaded.LastUpdate().IsZero() {
		t.Fatal("expected last_update to be set")
	}
}

func TestDocumentLayout(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir)
	store.Set(Decision{ItemID: 42, Collection: "Heist", Include: true, Confidence: 0.8, ContentHash: "h1", Tag: "KAI-heist"})
	if err := store.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "kometa_state.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw["version"] != "1.2.3" {
		t.Fatalf("version = %v", raw["version"])
	}
	if raw["state_format_version"] != float64(FormatVersion) {
		t.Fatalf("state_format_version = %v", raw["state_format_version"])
	}
	decisions := raw["decisions"].(map[string]any)
	item, ok := decisions["item:42"].(map[string]any)
	if !ok {
		t.Fatalf("expected item:42 key, got %v", decisions)
	}
	if item["metadata_hash"] != "h1" {
		t.Fatalf("metadata_hash = %v", item["metadata_hash"])
	}
	if problems := ValidateDocument(data); len(problems) != 0 {
		t.Fatalf("saved document fails validation: %v", problems)
	}
}

func TestSetOverwritesItemHash(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	store.Set(Decision{ItemID: 1, Collection: "A", ContentHash: "old"})
	store.Set(Decision{ItemID: 1, Collection: "B", ContentHash: "new"})
	if hash, _ := store.ContentHash(1); hash != "new" {
		t.Fatalf("item hash = %q, want new", hash)
	}
	a, _ := store.Get(1, "A")
	if a.ContentHash != "old" {
		t.Fatalf("per-collection hash = %q, want old", a.ContentHash)
	}
}

func TestSaveRotatesBackups(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir)
	for i := range 8 {
		store.Set(Decision{ItemID: i, Collection: "A", ContentHash: fmt.Sprint(i)})
		if err := store.Save(); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}
	backups := store.Backups()
	if len(backups) != maxBackups {
		t.Fatalf("got %d backups, want %d", len(backups), maxBackups)
	}
	for _, path := range backups {
		name := filepath.Base(path)
		if !strings.HasPrefix(name, "kometa_state_") || !strings.HasSuffix(name, ".json") {
			t.Fatalf("unexpected backup name %q", name)
		}
	}
	// The newest backup holds the state written by the second-to-last save.
	newest, err := readDocument(backups[len(backups)-1])
	if err != nil {
		t.Fatalf("read newest backup: %v", err)
	}
	if len(newest.Decisions) != 7 {
		t.Fatalf("newest backup has %d items, want 7", len(newest.Decisions))
	}
}

func TestCorruptStateRestoresNewestBackup(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir)
	store.Set(Decision{ItemID: 1, Collection: "A", Include: true, Confidence: 0.9, ContentHash: "h"})
	if err := store.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	store.Set(Decision{ItemID: 2, Collection: "A", Include: true, Confidence: 0.9, ContentHash: "h"})
	if err := store.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	backups := store.Backups()
	if len(backups) != 1 {
		t.Fatalf("expected one backup, got %d", len(backups))
	}
	want, err := os.ReadFile(backups[0])
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}

	testsupport.WriteFile(t, store.Path(), "{not json")

	reloaded := newTestStore(t, dir)
	if got := reloaded.Load(); got != RestoredFromBackup {
		t.Fatalf("Load() = %q, want %q", got, RestoredFromBackup)
	}
	if _, ok := reloaded.Get(1, "A"); !ok {
		t.Fatal("expected decision from backup")
	}
	if _, ok := reloaded.Get(2, "A"); ok {
		t.Fatal("decision newer than backup should be absent")
	}
	got, err := reloaded.Dump()
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	var wantDoc, gotDoc document
	if err := json.Unmarshal(want, &wantDoc); err != nil {
		t.Fatalf("decode backup: %v", err)
	}
	if err := json.Unmarshal(got, &gotDoc); err != nil {
		t.Fatalf("decode dump: %v", err)
	}
	if wantDoc.LastUpdate != gotDoc.LastUpdate || len(wantDoc.Decisions) != len(gotDoc.Decisions) {
		t.Fatalf("restored state differs from backup")
	}
}

func TestCorruptStateWithoutBackupsResets(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(dir, "kometa_state.json"), "garbage")
	testsupport.WriteFile(t, filepath.Join(dir, "backups", "kometa_state_20250101000000.json"), "also garbage")

	store := newTestStore(t, dir)
	if got := store.Load(); got != ResetAfterFailure {
		t.Fatalf("Load() = %q, want %q", got, ResetAfterFailure)
	}
	if len(store.Decisions("")) != 0 {
		t.Fatal("expected empty state")
	}
}

func TestVersionMismatchLoadsBestEffort(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(dir, "kometa_state.json"), `{
  "version": "0.9",
  "state_format_version": 99,
  "last_update": "2024-01-01T00:00:00Z",
  "decisions": {"item:5": {"metadata_hash": "x", "collections": {"A": {"include": true, "confidence": 0.8, "tag": "KAI-a", "timestamp": "2024-01-01T00:00:00Z"}}}}
}`)
	store := newTestStore(t, dir)
	if got := store.Load(); got != LoadedPrimary {
		t.Fatalf("Load() = %q, want %q", got, LoadedPrimary)
	}
	d, ok := store.Get(5, "A")
	if !ok || d.ContentHash != "x" {
		t.Fatalf("expected decision with item-level hash fallback, got %+v %v", d, ok)
	}
	if len(store.Changes()) != 0 || len(store.Errors()) != 0 {
		t.Fatal("missing logs should load as empty")
	}
	if err := store.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if problems := ValidateFile(store.Path()); len(problems) != 0 {
		t.Fatalf("saved document should be stamped with current format: %v", problems)
	}
}

func TestLogsAreBounded(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	for i := range 130 {
		store.LogChange(ChangeEntry{ItemID: i, Action: "added"})
	}
	for i := range 70 {
		store.LogError("ctx", fmt.Sprint(i))
	}
	changes := store.Changes()
	if len(changes) != maxChanges {
		t.Fatalf("changes = %d, want %d", len(changes), maxChanges)
	}
	if changes[0].ItemID != 30 || changes[len(changes)-1].ItemID != 129 {
		t.Fatalf("expected newest changes retained, got first=%d last=%d", changes[0].ItemID, changes[len(changes)-1].ItemID)
	}
	errs := store.Errors()
	if len(errs) != maxErrors || errs[0].Message != "20" {
		t.Fatalf("errors = %d (first %q), want %d starting at 20", len(errs), errs[0].Message, maxErrors)
	}

	store.ClearChanges()
	store.ClearErrors()
	if len(store.Changes()) != 0 || len(store.Errors()) != 0 {
		t.Fatal("expected logs cleared")
	}
}

func TestResetSavesEmptyState(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir)
	store.Set(Decision{ItemID: 1, Collection: "A", ContentHash: "h"})
	if err := store.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	reloaded := newTestStore(t, dir)
	reloaded.Load()
	if len(reloaded.Decisions("")) != 0 {
		t.Fatal("expected reset state on disk")
	}
}

func TestValidateDocumentReportsProblems(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "invalid json", doc: "{", want: "not valid JSON"},
		{name: "missing keys", doc: `{"version":"1"}`, want: `missing required key "decisions"`},
		{name: "wrong format", doc: `{"version":"1","state_format_version":2,"last_update":"","decisions":{},"changes":[],"errors":[]}`, want: "expected 1"},
		{name: "bad key", doc: `{"version":"1","state_format_version":1,"last_update":"","decisions":{"movie:1":{"metadata_hash":"","collections":{}}},"changes":[],"errors":[]}`, want: "item:<id>"},
		{name: "bad confidence", doc: `{"version":"1","state_format_version":1,"last_update":"","decisions":{"item:1":{"metadata_hash":"","collections":{"A":{"include":true,"confidence":1.5,"timestamp":""}}}},"changes":[],"errors":[]}`, want: "confidence out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problems := ValidateDocument([]byte(tt.doc))
			if len(problems) == 0 {
				t.Fatal("expected problems")
			}
			joined := strings.Join(problems, "\n")
			if !strings.Contains(joined, tt.want) {
				t.Fatalf("problems %q do not mention %q", joined, tt.want)
			}
		})
	}
}

func TestValidateFreshStore(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	store.Set(Decision{ItemID: 3, Collection: "A", Include: true, Confidence: 0.5, ContentHash: "h"})
	if problems := store.Validate(); len(problems) != 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
}
