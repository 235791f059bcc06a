package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(settings Settings) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := New("test", settings)
	b.now = clock.Now
	return b, clock
}

func fail() error    { return errBoom }
func succeed() error { return nil }

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name     string
		calls    []func() error
		expected State
	}{
		{"stays closed on successes", []func() error{succeed, succeed, succeed}, StateClosed},
		{"opens after threshold", []func() error{fail, fail, fail}, StateOpen},
		{"success resets the streak", []func() error{fail, fail, succeed, fail, fail}, StateClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBreaker(Settings{FailureThreshold: 3, Cooldown: time.Minute})
			for _, call := range tt.calls {
				_ = b.Do(call)
			}
			assert.Equal(t, tt.expected, b.State())
		})
	}
}

func TestBreakerOpenSkipsCalls(t *testing.T) {
	b, _ := newTestBreaker(Settings{FailureThreshold: 2, Cooldown: time.Minute})

	assert.ErrorIs(t, b.Do(fail), errBoom)
	assert.ErrorIs(t, b.Do(fail), errBoom)
	require.Equal(t, StateOpen, b.State())

	called := false
	err := b.Do(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	b, clock := newTestBreaker(Settings{FailureThreshold: 1, Cooldown: time.Second, Trials: 2})

	_ = b.Do(fail)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Do(succeed))
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Do(succeed))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(Settings{FailureThreshold: 1, Cooldown: time.Second})

	_ = b.Do(fail)
	clock.Advance(time.Second)

	assert.ErrorIs(t, b.Do(fail), errBoom)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Do(succeed), ErrOpen)
}

func TestBreakerLimitsTrials(t *testing.T) {
	b, clock := newTestBreaker(Settings{FailureThreshold: 1, Cooldown: time.Second, Trials: 1})

	_ = b.Do(fail)
	clock.Advance(time.Second)

	inside := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Do(func() error {
			close(inside)
			<-release
			return nil
		})
	}()

	<-inside
	assert.ErrorIs(t, b.Do(succeed), ErrOpen)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerIsFailure(t *testing.T) {
	notFound := errors.New("not found")
	b, _ := newTestBreaker(Settings{
		FailureThreshold: 1,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, notFound)
		},
	})

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Do(func() error { return notFound }), notFound)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	b, _ := newTestBreaker(Settings{FailureThreshold: 1})

	assert.Panics(t, func() {
		_ = b.Do(func() error { panic("kaboom") })
	})
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerCallbacks(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	b, clock := newTestBreaker(Settings{
		FailureThreshold: 2,
		Cooldown:         10 * time.Millisecond,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			transitions = append(transitions, from.String()+"->"+to.String())
			mu.Unlock()
		},
	})

	_ = b.Do(fail)
	_ = b.Do(fail)
	clock.Advance(20 * time.Millisecond)
	require.NoError(t, b.Do(succeed))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}
