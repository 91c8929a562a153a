// Package rollbackstore persists an append-only log of per-torrent limit
// changes so they can be rolled back later, per spec.md §4.4. It follows the
// teacher's own database layer (embedded migrations, a single dedicated
// write connection to serialize writers, WAL mode) simplified down from the
// teacher's dual SQLite/Postgres, string-interning design: this spec only
// ever needs one dialect and one small table.
package rollbackstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/trackercap/upcap/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const busyTimeoutMillis = 5000

// Store is a sqlite-backed rollback log. All writes go through a single
// connection so concurrent callers (engine + HTTP rollback handler) never
// race on the log.
type Store struct {
	db *sql.DB
}

// Open creates the database file and directory if needed, applies
// connection pragmas, and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create rollback store directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open rollback store at %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis),
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		contents, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordChange appends one rollback record. Durability: this write must
// complete (and be fsynced by SQLite's WAL commit) before the corresponding
// client write is treated as observable externally by the engine.
func (s *Store) RecordChange(ctx context.Context, hash string, oldLimit, newLimit int64, reason string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rollback_records (torrent_hash, old_limit, new_limit, timestamp, reason, restored)
		VALUES (?, ?, ?, ?, ?, 0)
	`, hash, oldLimit, newLimit, ts.Unix(), reason)
	if err != nil {
		return fmt.Errorf("record rollback change: %w", err)
	}
	return nil
}

func scanRecord(row interface{ Scan(...any) error }) (domain.RollbackRecord, error) {
	var r domain.RollbackRecord
	var ts int64
	var restored int
	if err := row.Scan(&r.ID, &r.TorrentHash, &r.OldLimit, &r.NewLimit, &ts, &r.Reason, &restored); err != nil {
		return domain.RollbackRecord{}, err
	}
	r.Timestamp = time.Unix(ts, 0).UTC()
	r.Restored = restored != 0
	return r, nil
}

// ListUnrestored returns every rollback record not yet marked restored,
// oldest first.
func (s *Store) ListUnrestored(ctx context.Context) ([]domain.RollbackRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, torrent_hash, old_limit, new_limit, timestamp, reason, restored
		FROM rollback_records
		WHERE restored = 0
		ORDER BY timestamp ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list unrestored rollback records: %w", err)
	}
	defer rows.Close()

	var out []domain.RollbackRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListAllTouched returns every rollback record, restored or not, most
// recent first.
func (s *Store) ListAllTouched(ctx context.Context) ([]domain.RollbackRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, torrent_hash, old_limit, new_limit, timestamp, reason, restored
		FROM rollback_records
		ORDER BY timestamp DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list all touched rollback records: %w", err)
	}
	defer rows.Close()

	var out []domain.RollbackRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EarliestOldLimit returns the oldest unrestored old_limit recorded for
// hash, which is what a rollback restores to (the first observation in the
// session, not the most recent one).
func (s *Store) EarliestOldLimit(ctx context.Context, hash string) (int64, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT old_limit FROM rollback_records
		WHERE torrent_hash = ? AND restored = 0
		ORDER BY timestamp ASC, id ASC
		LIMIT 1
	`, hash)
	var limit int64
	err := row.Scan(&limit)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("earliest old limit for %s: %w", hash, err)
	}
	return limit, true, nil
}

// MarkRestored flags every unrestored record for the given hashes as
// restored. Idempotent: calling it twice for the same hashes is a no-op the
// second time.
func (s *Store) MarkRestored(ctx context.Context, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark-restored transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE rollback_records SET restored = 1 WHERE torrent_hash = ? AND restored = 0`)
	if err != nil {
		return fmt.Errorf("prepare mark-restored statement: %w", err)
	}
	defer stmt.Close()

	for _, h := range hashes {
		if _, err := stmt.ExecContext(ctx, h); err != nil {
			return fmt.Errorf("mark restored for %s: %w", h, err)
		}
	}
	return tx.Commit()
}

// Prune deletes restored records older than beforeTS, returning the count
// removed.
func (s *Store) Prune(ctx context.Context, beforeTS time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM rollback_records WHERE restored = 1 AND timestamp < ?
	`, beforeTS.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune rollback records: %w", err)
	}
	return res.RowsAffected()
}
