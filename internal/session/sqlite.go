package session

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteIndex implements Index using modernc.org/sqlite.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex opens a SQLite database at dsn, configures WAL mode and
// creates the sessions table.
func NewSQLiteIndex(ctx context.Context, dsn string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "session: open sqlite index")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "session: exec %s", pragma)
		}
	}
	idx := &SQLiteIndex{db: db}
	if err := idx.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	user_name        TEXT NOT NULL,
	context_key      TEXT NOT NULL DEFAULT '',
	root             TEXT NOT NULL,
	temp_dir         TEXT NOT NULL,
	output_dir       TEXT NOT NULL,
	created_at       DATETIME NOT NULL,
	expires_at       DATETIME NOT NULL,
	last_accessed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
`

func (x *SQLiteIndex) migrate(ctx context.Context) error {
	_, err := x.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "session: migrate sqlite index")
}

func (x *SQLiteIndex) Load(ctx context.Context) ([]Session, error) {
	rows, err := x.db.QueryContext(ctx,
		`SELECT id, user_name, context_key, root, temp_dir, output_dir, created_at, expires_at, last_accessed_at
		 FROM sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "session: query sqlite index")
	}
	defer rows.Close() //nolint:errcheck

	var out []Session
	for rows.Next() {
		var s Session
		var created, expires, seen time.Time
		if err := rows.Scan(&s.ID, &s.User, &s.Context, &s.Root, &s.TempDir, &s.OutputDir,
			&created, &expires, &seen); err != nil {
			return nil, eris.Wrap(err, "session: scan sqlite index")
		}
		s.CreatedAt, s.ExpiresAt, s.LastAccessedAt = created.UTC(), expires.UTC(), seen.UTC()
		out = append(out, s)
	}
	return out, eris.Wrap(rows.Err(), "session: iterate sqlite index")
}

func (x *SQLiteIndex) Put(ctx context.Context, s Session) error {
	_, err := x.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_name, context_key, root, temp_dir, output_dir, created_at, expires_at, last_accessed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			expires_at = excluded.expires_at,
			last_accessed_at = excluded.last_accessed_at`,
		s.ID, s.User, s.Context, s.Root, s.TempDir, s.OutputDir,
		s.CreatedAt.UTC(), s.ExpiresAt.UTC(), s.LastAccessedAt.UTC(),
	)
	return eris.Wrapf(err, "session: upsert %s", s.ID)
}

func (x *SQLiteIndex) Delete(ctx context.Context, id string) error {
	_, err := x.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return eris.Wrapf(err, "session: delete %s", id)
}

func (x *SQLiteIndex) Close() error {
	return x.db.Close()
}
