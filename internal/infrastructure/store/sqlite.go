package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nocodo/nocodo/backend/internal/domain/session"
)

// SQLite stores sessions in a single database file.
type SQLite struct {
	db *sqlx.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database at dsn and applies the schema.
func OpenSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	// One writer avoids SQLITE_BUSY between pumps.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite store: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema init: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS terminal_sessions (
		id          TEXT PRIMARY KEY,
		tool_name   TEXT NOT NULL,
		status      TEXT NOT NULL,
		term_cols   INTEGER NOT NULL,
		term_rows   INTEGER NOT NULL,
		working_dir TEXT NOT NULL,
		started_at  TIMESTAMP NOT NULL,
		ended_at    TIMESTAMP NULL,
		exit_code   INTEGER NULL,
		updated_at  TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS terminal_transcript_chunks (
		session_id TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		data       BLOB NOT NULL,
		raw_size   INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLite) Save(ctx context.Context, sess session.Session) error {
	row := toRow(sess)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO terminal_sessions (id, tool_name, status, term_cols, term_rows, working_dir, started_at, ended_at, exit_code, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			term_cols = excluded.term_cols,
			term_rows = excluded.term_rows,
			ended_at = excluded.ended_at,
			exit_code = excluded.exit_code,
			updated_at = excluded.updated_at`,
		row.ID, row.ToolName, row.Status, row.Cols, row.Rows, row.WorkingDir,
		row.StartedAt, row.EndedAt, row.ExitCode, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SQLite) AppendTranscript(ctx context.Context, sessionID string, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO terminal_transcript_chunks (session_id, seq, data, raw_size)
		SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?
		FROM terminal_transcript_chunks WHERE session_id = ?`,
		sessionID, compressChunk(chunk), len(chunk), sessionID,
	)
	if err != nil {
		return fmt.Errorf("append transcript %s: %w", sessionID, err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, sessionID string) (*Record, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, tool_name, status, term_cols, term_rows, working_dir, started_at, ended_at, exit_code
		FROM terminal_sessions WHERE id = ?`, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	var chunks []chunkRow
	err = s.db.SelectContext(ctx, &chunks, `
		SELECT data, raw_size FROM terminal_transcript_chunks
		WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load transcript %s: %w", sessionID, err)
	}

	return assemble(row, chunks)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
