package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"kometaai/internal/fileutil"
	"kometaai/internal/logging"
)

// LoadOutcome describes how Load obtained the state.
type LoadOutcome string

const (
	LoadedPrimary      LoadOutcome = "primary"
	LoadedFresh        LoadOutcome = "fresh"
	RestoredFromBackup LoadOutcome = "backup"
	ResetAfterFailure  LoadOutcome = "reset"
)

// Store is the durable decision store.
type Store struct {
	dir     string
	path    string
	version string
	logger  *slog.Logger
	now     func() time.Time

	mu  sync.Mutex
	doc document
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps and backup names.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithVersion sets the application version recorded in the document.
func WithVersion(version string) Option {
	return func(s *Store) {
		if version != "" {
			s.version = version
		}
	}
}

// New returns an empty store rooted at dir. Call Load to read existing state.
func New(dir string, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		dir:     dir,
		path:    filepath.Join(dir, fileName),
		version: "dev",
		logger:  logging.NewComponentLogger(logger, "state"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.doc = newDocument(s.version)
	return s
}

// Path returns the primary document location.
func (s *Store) Path() string {
	return s.path
}

// BackupDir returns the directory holding rotated backups.
func (s *Store) BackupDir() string {
	return filepath.Join(s.dir, backupDir)
}

// Load reads the primary document, falling back to the newest readable
// backup and finally to an empty state. It never returns an error.
func (s *Store) Load() LoadOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := readDocument(s.path)
	if err == nil {
		s.adopt(doc, s.path)
		return LoadedPrimary
	}
	if errors.Is(err, fs.ErrNotExist) {
		if restored, ok := s.restoreNewestBackup(); ok {
			logging.WarnWithContext(s.logger, "state file missing; restored from backup", "state_restored",
				logging.String("backup", restored),
				logging.String(logging.FieldImpact, "decisions since the backup will be reclassified"),
			)
			return RestoredFromBackup
		}
		s.doc = newDocument(s.version)
		s.logger.Info("no state file found; starting fresh", logging.String("path", s.path))
		return LoadedFresh
	}

	logging.WarnWithContext(s.logger, "state file unreadable; trying backups", "state_corrupt",
		logging.String("path", s.path),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "inspect the state file or run 'kometaai state validate'"),
	)
	if restored, ok := s.restoreNewestBackup(); ok {
		logging.WarnWithContext(s.logger, "state restored from backup", "state_restored",
			logging.String("backup", restored),
			logging.String(logging.FieldImpact, "decisions since the backup will be reclassified"),
		)
		return RestoredFromBackup
	}
	s.doc = newDocument(s.version)
	logging.WarnWithContext(s.logger, "no usable backup; starting with empty state", "state_reset",
		logging.String(logging.FieldImpact, "all items will be reclassified"),
	)
	return ResetAfterFailure
}

// restoreNewestBackup must be called with s.mu held.
func (s *Store) restoreNewestBackup() (string, bool) {
	backups, err := s.listBackups()
	if err != nil {
		return "", false
	}
	for i := len(backups) - 1; i >= 0; i-- {
		doc, err := readDocument(backups[i])
		if err != nil {
			s.logger.Debug("skipping unreadable backup", logging.String("backup", backups[i]), logging.Error(err))
			continue
		}
		s.adopt(doc, backups[i])
		return backups[i], true
	}
	return "", false
}

// adopt installs doc, warning on a format version mismatch. The document is
// used as-is and stamped with the current version on the next save.
func (s *Store) adopt(doc document, source string) {
	if doc.StateFormatVersion != FormatVersion {
		logging.WarnWithContext(s.logger, "state format version mismatch", "state_version_mismatch",
			logging.String("source", source),
			logging.Int("found", doc.StateFormatVersion),
			logging.Int("expected", FormatVersion),
			logging.String(logging.FieldImpact, "state loaded best-effort; unknown fields are dropped on save"),
		)
	}
	if doc.Decisions == nil {
		doc.Decisions = make(map[string]*itemRecord)
	}
	for key, rec := range doc.Decisions {
		if rec == nil {
			delete(doc.Decisions, key)
			continue
		}
		if rec.Collections == nil {
			rec.Collections = make(map[string]collectionRecord)
		}
	}
	if doc.Changes == nil {
		doc.Changes = []ChangeEntry{}
	}
	if doc.Errors == nil {
		doc.Errors = []ErrorEntry{}
	}
	s.doc = doc
}

func readDocument(path string) (document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return document{}, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return doc, nil
}

// Save backs up the current document, then atomically writes the in-memory
// state. Failures are logged and returned; callers do not retry.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	now := s.now()
	s.doc.Version = s.version
	s.doc.StateFormatVersion = FormatVersion
	s.doc.LastUpdate = formatTime(now)

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if _, err := os.Stat(s.path); err == nil {
		backup := filepath.Join(s.BackupDir(), backupPrefix+now.UTC().Format(backupLayout)+".json")
		if err := fileutil.CopyFileVerified(s.path, backup); err != nil {
			logging.WarnWithContext(s.logger, "state backup failed", "state_backup_failed",
				logging.String("backup", backup),
				logging.Error(err),
				logging.String(logging.FieldImpact, "previous state is not preserved for recovery"),
			)
		} else {
			s.pruneBackups()
		}
	}

	if err := fileutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		logging.ErrorWithContext(s.logger, "state save failed", "state_save_failed",
			logging.String("path", s.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free space and permissions on the state directory"),
		)
		return fmt.Errorf("write state: %w", err)
	}
	s.logger.Debug("state saved", logging.String("path", s.path), logging.Int("items", len(s.doc.Decisions)))
	return nil
}

func (s *Store) listBackups() ([]string, error) {
	entries, err := os.ReadDir(s.BackupDir())
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		out = append(out, filepath.Join(s.BackupDir(), name))
	}
	// Timestamps are fixed-width, so lexical order is chronological.
	sort.Strings(out)
	return out, nil
}

func (s *Store) pruneBackups() {
	backups, err := s.listBackups()
	if err != nil || len(backups) <= maxBackups {
		return
	}
	for _, path := range backups[:len(backups)-maxBackups] {
		if err := os.Remove(path); err != nil {
			s.logger.Debug("remove old backup failed", logging.String("backup", path), logging.Error(err))
		}
	}
}

// Backups lists backup files oldest first.
func (s *Store) Backups() []string {
	backups, _ := s.listBackups()
	return backups
}

// Reset replaces the state with an empty document and saves it.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = newDocument(s.version)
	return s.saveLocked()
}

// Get returns the decision for (itemID, collection).
func (s *Store) Get(itemID int, collection string) (Decision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.Decisions[itemKey(itemID)]
	if !ok {
		return Decision{}, false
	}
	c, ok := rec.Collections[collection]
	if !ok {
		return Decision{}, false
	}
	return toDecision(itemID, collection, rec, c), true
}

func toDecision(itemID int, collection string, rec *itemRecord, c collectionRecord) Decision {
	hash := c.MetadataHash
	if hash == "" {
		hash = rec.MetadataHash
	}
	return Decision{
		ItemID:      itemID,
		Collection:  collection,
		Include:     c.Include,
		Confidence:  c.Confidence,
		ContentHash: hash,
		Tag:         c.Tag,
		Reasoning:   c.Reasoning,
		Timestamp:   parseTime(c.Timestamp),
	}
}

// Set upserts d. The item-level content hash is overwritten with d's hash;
// the hash is item-intrinsic so the last writer wins.
func (s *Store) Set(d Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := itemKey(d.ItemID)
	rec, ok := s.doc.Decisions[key]
	if !ok {
		rec = &itemRecord{Collections: make(map[string]collectionRecord)}
		s.doc.Decisions[key] = rec
	}
	if d.ContentHash != "" {
		rec.MetadataHash = d.ContentHash
	}
	ts := d.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	rec.Collections[d.Collection] = collectionRecord{
		Include:      d.Include,
		Confidence:   d.Confidence,
		MetadataHash: d.ContentHash,
		Tag:          d.Tag,
		Timestamp:    formatTime(ts),
		Reasoning:    d.Reasoning,
	}
}

// ContentHash returns the item-level content hash.
func (s *Store) ContentHash(itemID int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.Decisions[itemKey(itemID)]
	if !ok || rec.MetadataHash == "" {
		return "", false
	}
	return rec.MetadataHash, true
}

// Decisions returns every decision for collection ordered by item ID. An
// empty collection name returns decisions for all collections.
func (s *Store) Decisions(collection string) []Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Decision
	for key, rec := range s.doc.Decisions {
		id, err := parseItemKey(key)
		if err != nil {
			continue
		}
		for name, c := range rec.Collections {
			if collection != "" && name != collection {
				continue
			}
			out = append(out, toDecision(id, name, rec, c))
		}
	}
	slices.SortFunc(out, func(a, b Decision) int {
		if a.ItemID != b.ItemID {
			return a.ItemID - b.ItemID
		}
		return strings.Compare(a.Collection, b.Collection)
	})
	return out
}

// LogChange appends a change entry, keeping the newest 100.
func (s *Store) LogChange(entry ChangeEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.Timestamp == "" {
		entry.Timestamp = formatTime(s.now())
	}
	s.doc.Changes = appendBounded(s.doc.Changes, entry, maxChanges)
}

// LogError appends an error entry, keeping the newest 50.
func (s *Store) LogError(context, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Errors = appendBounded(s.doc.Errors, ErrorEntry{
		Timestamp: formatTime(s.now()),
		Context:   context,
		Message:   message,
	}, maxErrors)
}

func appendBounded[T any](list []T, entry T, limit int) []T {
	list = append(list, entry)
	if len(list) > limit {
		list = append(list[:0:0], list[len(list)-limit:]...)
	}
	return list
}

// Changes returns a copy of the change log, oldest first.
func (s *Store) Changes() []ChangeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChangeEntry(nil), s.doc.Changes...)
}

// Errors returns a copy of the error log, oldest first.
func (s *Store) Errors() []ErrorEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ErrorEntry(nil), s.doc.Errors...)
}

// ClearChanges empties the change log.
func (s *Store) ClearChanges() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Changes = []ChangeEntry{}
}

// ClearErrors empties the error log.
func (s *Store) ClearErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Errors = []ErrorEntry{}
}

// LastUpdate returns the timestamp of the last save.
func (s *Store) LastUpdate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return parseTime(s.doc.LastUpdate)
}

// Dump returns the in-memory document as indented JSON.
func (s *Store) Dump() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.MarshalIndent(s.doc, "", "  ")
}
