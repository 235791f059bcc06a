package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nocodo/nocodo/backend/internal/domain/session"
)

// Postgres stores sessions through a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects, verifies the connection and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema init: %w", err)
	}
	return p, nil
}

func (p *Postgres) initSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS terminal_sessions (
		id          TEXT PRIMARY KEY,
		tool_name   TEXT NOT NULL,
		status      TEXT NOT NULL,
		term_cols   INTEGER NOT NULL,
		term_rows   INTEGER NOT NULL,
		working_dir TEXT NOT NULL,
		started_at  TIMESTAMPTZ NOT NULL,
		ended_at    TIMESTAMPTZ NULL,
		exit_code   INTEGER NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS terminal_transcript_chunks (
		session_id TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		data       BYTEA NOT NULL,
		raw_size   INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	`)
	return err
}

func (p *Postgres) Save(ctx context.Context, sess session.Session) error {
	row := toRow(sess)
	_, err := p.pool.Exec(ctx, `
		INSERT INTO terminal_sessions (id, tool_name, status, term_cols, term_rows, working_dir, started_at, ended_at, exit_code, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			term_cols = EXCLUDED.term_cols,
			term_rows = EXCLUDED.term_rows,
			ended_at = EXCLUDED.ended_at,
			exit_code = EXCLUDED.exit_code,
			updated_at = EXCLUDED.updated_at`,
		row.ID, row.ToolName, row.Status, row.Cols, row.Rows, row.WorkingDir,
		row.StartedAt, row.EndedAt, row.ExitCode, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func (p *Postgres) AppendTranscript(ctx context.Context, sessionID string, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO terminal_transcript_chunks (session_id, seq, data, raw_size)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3
		FROM terminal_transcript_chunks WHERE session_id = $1`,
		sessionID, compressChunk(chunk), len(chunk),
	)
	if err != nil {
		return fmt.Errorf("append transcript %s: %w", sessionID, err)
	}
	return nil
}

func (p *Postgres) Load(ctx context.Context, sessionID string) (*Record, error) {
	var row sessionRow
	err := p.pool.QueryRow(ctx, `
		SELECT id, tool_name, status, term_cols, term_rows, working_dir, started_at, ended_at, exit_code
		FROM terminal_sessions WHERE id = $1`, sessionID).
		Scan(&row.ID, &row.ToolName, &row.Status, &row.Cols, &row.Rows, &row.WorkingDir,
			&row.StartedAt, &row.EndedAt, &row.ExitCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT data, raw_size FROM terminal_transcript_chunks
		WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load transcript %s: %w", sessionID, err)
	}
	chunks, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (chunkRow, error) {
		var c chunkRow
		err := r.Scan(&c.Data, &c.RawSize)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("load transcript %s: %w", sessionID, err)
	}

	return assemble(row, chunks)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
