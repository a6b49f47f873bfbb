// Package authaudit keeps a SQLite journal of auth events: OAuth refreshes,
// refresh failures, profile failures and profile id repairs. The journal is
// advisory; write failures are logged and never block credential use.
package authaudit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Event kinds.
const (
	KindRefresh       = "refresh"
	KindRefreshFailed = "refresh_failed"
	KindFailure       = "failure"
	KindRepair        = "repair"
)

// retention is how long events are kept.
const retention = 30 * 24 * time.Hour

// timeLayout is fixed width so created_at sorts chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Event is one journal row.
type Event struct {
	ID        string
	Kind      string
	ProfileID string
	Provider  string
	Detail    string
	CreatedAt time.Time
}

// Journal writes events to the auth_events table.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (or creates) the journal at path and prunes expired events.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	j := &Journal{db: db, logger: logger.With("component", "authaudit"), now: time.Now}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	j.prune()
	return j, nil
}

func (j *Journal) migrate() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS auth_events (
			id         TEXT PRIMARY KEY,
			kind       TEXT NOT NULL,
			profile_id TEXT NOT NULL DEFAULT '',
			provider   TEXT NOT NULL DEFAULT '',
			detail     TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_auth_events_created ON auth_events(created_at);`)
	if err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

// Record stores an event. Failures are logged only.
func (j *Journal) Record(kind, profileID, provider, detail string) {
	if len(detail) > 500 {
		detail = detail[:500] + "...[truncated]"
	}
	_, err := j.db.Exec(`
		INSERT INTO auth_events (id, kind, profile_id, provider, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), kind, profileID, provider, detail, j.now().UTC().Format(timeLayout),
	)
	if err != nil {
		j.logger.Warn("failed to write auth event", "kind", kind, "profile_id", profileID, "error", err)
	}
}

// Recent returns the last n events, newest first.
func (j *Journal) Recent(n int) ([]Event, error) {
	rows, err := j.db.Query(`
		SELECT id, kind, profile_id, provider, detail, created_at
		FROM auth_events
		ORDER BY created_at DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query auth events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e         Event
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.ProfileID, &e.Provider, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan auth event: %w", err)
		}
		e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// prune deletes events older than the retention window.
func (j *Journal) prune() {
	cutoff := j.now().Add(-retention).UTC().Format(timeLayout)
	result, err := j.db.Exec("DELETE FROM auth_events WHERE created_at < ?", cutoff)
	if err != nil {
		j.logger.Warn("auth journal prune failed", "error", err)
		return
	}
	if n, _ := result.RowsAffected(); n > 0 {
		j.logger.Info("auth journal pruned", "removed", n)
	}
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
