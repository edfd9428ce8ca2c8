package directory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/wayfarer-labs/guidematch/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS experts (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	profession  TEXT NOT NULL DEFAULT '',
	bio         TEXT NOT NULL DEFAULT '',
	avatar_url  TEXT NOT NULL DEFAULT '',
	profile_url TEXT NOT NULL DEFAULT '',
	active      INTEGER NOT NULL DEFAULT 1,
	created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`

// SQLiteSource reads experts from a local SQLite file with the same layout
// as the postgres experts table.
type SQLiteSource struct {
	db    *sql.DB
	limit int
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string, limit int) (*SQLiteSource, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("directory: create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("directory: open sqlite: %w", err)
	}
	// A single writer avoids SQLITE_BUSY on concurrent upserts.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("directory: create sqlite schema: %w", err)
	}
	if limit <= 0 {
		limit = DefaultMaxRecords
	}
	return &SQLiteSource{db: db, limit: limit}, nil
}

// Name implements Source.
func (s *SQLiteSource) Name() string { return "sqlite" }

// ListCandidates implements Source.
func (s *SQLiteSource) ListCandidates(ctx context.Context) ([]model.Candidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, profession, bio, name, avatar_url, profile_url FROM experts
		 WHERE active = 1
		 ORDER BY created_at, id
		 LIMIT ?`, s.limit)
	if err != nil {
		return nil, fmt.Errorf("directory: query sqlite: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Candidate
	for rows.Next() {
		var c model.Candidate
		if err := rows.Scan(&c.ID, &c.Profession, &c.Bio, &c.Name, &c.AvatarURL, &c.ProfileURL); err != nil {
			return nil, fmt.Errorf("directory: scan sqlite row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Upsert inserts or replaces experts.
func (s *SQLiteSource) Upsert(ctx context.Context, experts []model.Candidate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("directory: begin sqlite tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO experts (id, profession, bio, name, avatar_url, profile_url)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			profession = excluded.profession,
			bio = excluded.bio,
			name = excluded.name,
			avatar_url = excluded.avatar_url,
			profile_url = excluded.profile_url,
			active = 1`)
	if err != nil {
		return fmt.Errorf("directory: prepare sqlite upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range experts {
		if _, err := stmt.ExecContext(ctx, e.ID, e.Profession, e.Bio, e.Name, e.AvatarURL, e.ProfileURL); err != nil {
			return fmt.Errorf("directory: upsert sqlite expert %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Close releases the database handle.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}
