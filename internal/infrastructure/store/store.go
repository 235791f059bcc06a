// Package store persists terminal session records and transcripts.
//
// The terminal manager saves a session on every status change and appends
// transcript chunks while it runs. Memory, SQLite and PostgreSQL backends
// implement the same contract; the SQL backends store chunks zstd
// compressed and sit behind a circuit breaker.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nocodo/nocodo/backend/internal/domain/session"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/resilience"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Load for unknown sessions.
var ErrNotFound = errors.New("session not found in store")

// Record is a persisted session with its transcript. Truncated is set when
// the backend kept only the newest bytes.
type Record struct {
	Session    session.Session
	Transcript []byte
	Truncated  bool
}

// Store is the persistence contract used by the terminal manager.
type Store interface {
	Save(ctx context.Context, s session.Session) error
	AppendTranscript(ctx context.Context, sessionID string, chunk []byte) error
	Load(ctx context.Context, sessionID string) (*Record, error)
	Close() error
}

// Config selects a backend. Memory bounds the in-process backend.
type Config struct {
	Driver string
	DSN    string
	Memory MemoryConfig
}

const defaultSQLitePath = "nocodo.db"

// Open builds the configured store. SQL backends are wrapped in a breaker.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		inner Store
		err   error
	)
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(cfg.Memory), nil
	case "sqlite", "sqlite3":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		inner, err = OpenSQLite(ctx, dsn)
	case "postgres", "postgresql":
		if cfg.DSN == "" {
			return nil, errors.New("postgres store requires STORE_DSN")
		}
		inner, err = OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Session store opened", zap.String("driver", cfg.Driver))
	return NewGuarded(inner, resilience.Settings{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}, logger), nil
}
