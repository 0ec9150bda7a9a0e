package state

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// FormatVersion is the state_format_version this build reads and writes.
	FormatVersion = 1

	maxChanges = 100
	maxErrors  = 50
	maxBackups = 5

	fileName     = "kometa_state.json"
	backupDir    = "backups"
	backupPrefix = "kometa_state_"
	backupLayout = "20060102150405"
	itemPrefix   = "item:"
)

// Decision is the stored verdict for one (item, collection) pair.
type Decision struct {
	ItemID      int
	Collection  string
	Include     bool
	Confidence  float64
	ContentHash string
	Tag         string
	Reasoning   string
	Timestamp   time.Time
}

// ChangeEntry records one applied tag change.
type ChangeEntry struct {
	Timestamp  string `json:"timestamp"`
	ItemID     int    `json:"item_id"`
	Title      string `json:"title"`
	Collection string `json:"collection"`
	Action     string `json:"action"`
	Tag        string `json:"tag"`
}

// ErrorEntry records one caught error.
type ErrorEntry struct {
	Timestamp string `json:"timestamp"`
	Context   string `json:"context"`
	Message   string `json:"message"`
}

type document struct {
	Version            string                 `json:"version"`
	StateFormatVersion int                    `json:"state_format_version"`
	LastUpdate         string                 `json:"last_update"`
	Decisions          map[string]*itemRecord `json:"decisions"`
	Changes            []ChangeEntry          `json:"changes"`
	Errors             []ErrorEntry           `json:"errors"`
}

type itemRecord struct {
	MetadataHash string                      `json:"metadata_hash"`
	Collections  map[string]collectionRecord `json:"collections"`
}

type collectionRecord struct {
	Include      bool    `json:"include"`
	Confidence   float64 `json:"confidence"`
	MetadataHash string  `json:"metadata_hash,omitempty"`
	Tag          string  `json:"tag"`
	Timestamp    string  `json:"timestamp"`
	Reasoning    string  `json:"reasoning,omitempty"`
}

func newDocument(version string) document {
	return document{
		Version:            version,
		StateFormatVersion: FormatVersion,
		Decisions:          make(map[string]*itemRecord),
		Changes:            []ChangeEntry{},
		Errors:             []ErrorEntry{},
	}
}

func itemKey(itemID int) string {
	return itemPrefix + strconv.Itoa(itemID)
}

func parseItemKey(key string) (int, error) {
	raw, ok := strings.CutPrefix(key, itemPrefix)
	if !ok {
		return 0, fmt.Errorf("unexpected decision key %q", key)
	}
	return strconv.Atoi(raw)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
