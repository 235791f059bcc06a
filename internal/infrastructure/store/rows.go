package store

import (
	"database/sql"
	"time"

	"github.com/nocodo/nocodo/backend/internal/domain/session"
)

type sessionRow struct {
	ID         string        `db:"id"`
	ToolName   string        `db:"tool_name"`
	Status     string        `db:"status"`
	Cols       int64         `db:"term_cols"`
	Rows       int64         `db:"term_rows"`
	WorkingDir string        `db:"working_dir"`
	StartedAt  time.Time     `db:"started_at"`
	EndedAt    sql.NullTime  `db:"ended_at"`
	ExitCode   sql.NullInt64 `db:"exit_code"`
}

type chunkRow struct {
	Data    []byte `db:"data"`
	RawSize int    `db:"raw_size"`
}

func toRow(s session.Session) sessionRow {
	row := sessionRow{
		ID:         s.ID,
		ToolName:   s.ToolName,
		Status:     string(s.Status),
		Cols:       int64(s.Cols),
		Rows:       int64(s.Rows),
		WorkingDir: s.WorkingDir,
		StartedAt:  s.StartedAt.UTC(),
	}
	if s.EndedAt != nil {
		row.EndedAt = sql.NullTime{Time: s.EndedAt.UTC(), Valid: true}
	}
	if s.ExitCode != nil {
		row.ExitCode = sql.NullInt64{Int64: int64(*s.ExitCode), Valid: true}
	}
	return row
}

func (r sessionRow) toSession() (session.Session, error) {
	status, err := session.ParseStatus(r.Status)
	if err != nil {
		return session.Session{}, err
	}
	s := session.Session{
		ID:         r.ID,
		ToolName:   r.ToolName,
		Status:     status,
		Cols:       uint16(r.Cols),
		Rows:       uint16(r.Rows),
		WorkingDir: r.WorkingDir,
		StartedAt:  r.StartedAt,
	}
	if r.EndedAt.Valid {
		t := r.EndedAt.Time
		s.EndedAt = &t
	}
	if r.ExitCode.Valid {
		code := int(r.ExitCode.Int64)
		s.ExitCode = &code
	}
	return s, nil
}

func assemble(row sessionRow, chunks []chunkRow) (*Record, error) {
	sess, err := row.toSession()
	if err != nil {
		return nil, err
	}
	var transcript []byte
	for _, c := range chunks {
		raw, err := decompressChunk(c.Data, c.RawSize)
		if err != nil {
			return nil, err
		}
		transcript = append(transcript, raw...)
	}
	return &Record{Session: sess, Transcript: transcript}, nil
}
