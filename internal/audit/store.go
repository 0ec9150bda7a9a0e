package audit

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the state directory.
const FileName = "audit.db"

//go:embed migrations/*.sql
var migrationFS embed.FS

// Analysis is one stored refinement.
type Analysis struct {
	ItemID           int
	Collection       string
	RunID            string
	Title            string
	DetailedAnalysis string
	Include          bool
	Confidence       float64
	PriorConfidence  float64
	Reasoning        string
	CreatedAt        time.Time
}

// Store persists refinement analyses.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenInDir opens the audit database inside stateDir.
func OpenInDir(stateDir string) (*Store, error) {
	return Open(filepath.Join(stateDir, FileName))
}

// Open initializes or connects to the database at path and applies
// migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, now: time.Now}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends a. A zero CreatedAt is set to the current time.
func (s *Store) Record(ctx context.Context, a Analysis) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refinements (
            item_id, collection, run_id, title, detailed_analysis,
            include, confidence, prior_confidence, reasoning, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ItemID,
		a.Collection,
		nullableString(a.RunID),
		nullableString(a.Title),
		a.DetailedAnalysis,
		boolToInt(a.Include),
		a.Confidence,
		a.PriorConfidence,
		nullableString(a.Reasoning),
		a.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert refinement: %w", err)
	}
	return nil
}

const analysisColumns = `item_id, collection, run_id, title, detailed_analysis,
    include, confidence, prior_confidence, reasoning, created_at`

// Latest returns the most recent analysis for (itemID, collection).
func (s *Store) Latest(ctx context.Context, itemID int, collection string) (Analysis, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM refinements
         WHERE item_id = ? AND collection = ?
         ORDER BY id DESC LIMIT 1`,
		itemID, collection,
	)
	a, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Analysis{}, false, nil
	}
	if err != nil {
		return Analysis{}, false, fmt.Errorf("latest refinement: %w", err)
	}
	return a, true, nil
}

// ForItem returns the most recent analysis per collection for itemID,
// ordered by collection name.
func (s *Store) ForItem(ctx context.Context, itemID int) ([]Analysis, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+analysisColumns+` FROM refinements r
         WHERE item_id = ? AND id = (
             SELECT MAX(id) FROM refinements WHERE item_id = r.item_id AND collection = r.collection
         )
         ORDER BY collection`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("query refinements: %w", err)
	}
	defer rows.Close()

	var out []Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refinement: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refinements: %w", err)
	}
	return out, nil
}

// Count returns the number of stored analyses.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM refinements`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count refinements: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row scanner) (Analysis, error) {
	var (
		a         Analysis
		runID     sql.NullString
		title     sql.NullString
		reasoning sql.NullString
		include   int
		created   string
	)
	if err := row.Scan(&a.ItemID, &a.Collection, &runID, &title, &a.DetailedAnalysis,
		&include, &a.Confidence, &a.PriorConfidence, &reasoning, &created); err != nil {
		return Analysis{}, err
	}
	a.RunID = runID.String
	a.Title = title.String
	a.Reasoning = reasoning.String
	a.Include = include != 0
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		a.CreatedAt = t
	}
	return a, nil
}

func (s *Store) applyMigrations(ctx context.Context) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	for _, name := range names {
		version := strings.TrimSuffix(name, ".sql")
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		if count > 0 {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
