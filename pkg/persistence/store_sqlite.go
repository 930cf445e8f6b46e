package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dotsetgreg/due/pkg/episode"
	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps snapshot revisions and an archive of finished
// episodes in a single SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	keep int
}

// DefaultKeepRevisions is how many revisions per snapshot name survive a Put.
const DefaultKeepRevisions = 5

// NewSQLiteStore creates/opens the database at path. keep bounds the
// revisions retained per snapshot name; values <= 0 use DefaultKeepRevisions.
func NewSQLiteStore(path string, keep int) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection: the store is single-process and SQLite has one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if keep <= 0 {
		keep = DefaultKeepRevisions
	}
	store := &SQLiteStore{db: db, keep: keep}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			name TEXT NOT NULL,
			revision INTEGER NOT NULL,
			blob BLOB NOT NULL,
			size INTEGER NOT NULL,
			created_at_ms INTEGER NOT NULL,
			PRIMARY KEY (name, revision)
		);`,
		`CREATE INDEX IF NOT EXISTS snapshots_latest_idx ON snapshots(name, revision DESC);`,
		`CREATE TABLE IF NOT EXISTS episodes (
			id TEXT PRIMARY KEY,
			participants_json TEXT NOT NULL,
			event_count INTEGER NOT NULL,
			created_at_ms INTEGER NOT NULL,
			archived_at_ms INTEGER NOT NULL,
			record_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS episodes_created_idx ON episodes(created_at_ms, id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(stmt string) string {
	line := strings.TrimSpace(stmt)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func nowMS() int64 { return time.Now().UnixMilli() }

// Put stores blob as the next revision of name and prunes old revisions.
func (s *SQLiteStore) Put(ctx context.Context, name string, blob []byte) (Entry, error) {
	if strings.TrimSpace(name) == "" {
		return Entry{}, fmt.Errorf("put snapshot: empty name")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("put snapshot begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rev int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(revision), 0) FROM snapshots WHERE name = ?`, name).Scan(&rev); err != nil {
		return Entry{}, fmt.Errorf("put snapshot read revision: %w", err)
	}
	rev++
	created := nowMS()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO snapshots(name, revision, blob, size, created_at_ms)
VALUES(?, ?, ?, ?, ?)`, name, rev, blob, len(blob), created); err != nil {
		return Entry{}, fmt.Errorf("put snapshot insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM snapshots
WHERE name = ? AND revision <= ?`, name, rev-int64(s.keep)); err != nil {
		return Entry{}, fmt.Errorf("put snapshot prune: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("put snapshot commit: %w", err)
	}
	return Entry{Name: name, Revision: rev, Size: len(blob), UpdatedAt: time.UnixMilli(created)}, nil
}

// Get returns the latest revision of name.
func (s *SQLiteStore) Get(ctx context.Context, name string) ([]byte, error) {
	return s.GetRevision(ctx, name, 0)
}

// GetRevision returns a specific revision; rev <= 0 means the latest.
func (s *SQLiteStore) GetRevision(ctx context.Context, name string, rev int64) ([]byte, error) {
	var row *sql.Row
	if rev <= 0 {
		row = s.db.QueryRowContext(ctx, `
SELECT blob FROM snapshots
WHERE name = ?
ORDER BY revision DESC
LIMIT 1`, name)
	} else {
		row = s.db.QueryRowContext(ctx, `SELECT blob FROM snapshots WHERE name = ? AND revision = ?`, name, rev)
	}
	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goerr.Wrap(ErrNotFound, "get snapshot", goerr.V("name", name), goerr.V("revision", rev))
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return blob, nil
}

// List returns the latest revision of every snapshot name.
func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT s.name, s.revision, s.size, s.created_at_ms
FROM snapshots s
JOIN (SELECT name, MAX(revision) AS revision FROM snapshots GROUP BY name) latest
ON latest.name = s.name AND latest.revision = s.revision
ORDER BY s.name`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var createdMS int64
		if err := rows.Scan(&e.Name, &e.Revision, &e.Size, &createdMS); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		e.UpdatedAt = time.UnixMilli(createdMS)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// Revisions lists the retained revisions of name, newest first.
func (s *SQLiteStore) Revisions(ctx context.Context, name string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT name, revision, size, created_at_ms
FROM snapshots
WHERE name = ?
ORDER BY revision DESC`, name)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var createdMS int64
		if err := rows.Scan(&e.Name, &e.Revision, &e.Size, &createdMS); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		e.UpdatedAt = time.UnixMilli(createdMS)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return goerr.Wrap(ErrNotFound, "delete snapshot", goerr.V("name", name))
	}
	return nil
}

// ArchiveEpisode stores a closed episode so it can be learned later.
// Archiving the same id again replaces the stored record.
func (s *SQLiteStore) ArchiveEpisode(ctx context.Context, ep *episode.Episode) error {
	if !ep.IsClosed() {
		return goerr.Wrap(episode.ErrInvalidState, "archive open episode", goerr.V("episode_id", ep.ID()))
	}
	rec := ep.Snapshot()
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("archive episode encode: %w", err)
	}
	participants, err := json.Marshal(rec.Participants)
	if err != nil {
		return fmt.Errorf("archive episode encode participants: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO episodes(id, participants_json, event_count, created_at_ms, archived_at_ms, record_json)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	participants_json = excluded.participants_json,
	event_count = excluded.event_count,
	archived_at_ms = excluded.archived_at_ms,
	record_json = excluded.record_json`,
		rec.ID, string(participants), len(rec.Events), rec.CreatedAt.UnixMilli(), nowMS(), string(raw)); err != nil {
		return fmt.Errorf("archive episode insert: %w", err)
	}
	return nil
}

// ArchivedEpisodes restores every archived episode, oldest first.
func (s *SQLiteStore) ArchivedEpisodes(ctx context.Context) ([]*episode.Episode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, record_json FROM episodes ORDER BY created_at_ms, id`)
	if err != nil {
		return nil, fmt.Errorf("list archived episodes: %w", err)
	}
	defer rows.Close()

	var out []*episode.Episode
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan archived episode: %w", err)
		}
		var rec episode.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, goerr.Wrap(ErrCorruptSnapshot, "decode archived episode", goerr.V("episode_id", id), goerr.V("reason", err.Error()))
		}
		ep, err := episode.Restore(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived episodes: %w", err)
	}
	return out, nil
}
