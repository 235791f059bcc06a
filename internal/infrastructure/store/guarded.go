package store

import (
	"context"
	"errors"

	"github.com/nocodo/nocodo/backend/internal/domain/session"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/resilience"
	"go.uber.org/zap"
)

// Guarded stops calling a failing backend until the breaker cools down, so
// a dead database costs pumps nothing. Calls rejected by the breaker return
// resilience.ErrOpen.
type Guarded struct {
	inner   Store
	breaker *resilience.Breaker
}

var _ Store = (*Guarded)(nil)

// NewGuarded wraps inner. ErrNotFound never counts as a failure.
func NewGuarded(inner Store, settings resilience.Settings, logger *zap.Logger) *Guarded {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings.IsFailure = func(err error) bool {
		return err != nil && !errors.Is(err, ErrNotFound)
	}
	settings.OnStateChange = func(name string, from, to resilience.State) {
		logger.Warn("Store circuit breaker state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}
	return &Guarded{
		inner:   inner,
		breaker: resilience.New("store", settings),
	}
}

// State reports the breaker state.
func (g *Guarded) State() resilience.State {
	return g.breaker.State()
}

func (g *Guarded) Save(ctx context.Context, s session.Session) error {
	return g.breaker.Do(func() error {
		return g.inner.Save(ctx, s)
	})
}

func (g *Guarded) AppendTranscript(ctx context.Context, sessionID string, chunk []byte) error {
	return g.breaker.Do(func() error {
		return g.inner.AppendTranscript(ctx, sessionID, chunk)
	})
}

func (g *Guarded) Load(ctx context.Context, sessionID string) (*Record, error) {
	var rec *Record
	err := g.breaker.Do(func() error {
		var err error
		rec, err = g.inner.Load(ctx, sessionID)
		return err
	})
	return rec, err
}

func (g *Guarded) Close() error {
	return g.inner.Close()
}
