package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without calling through while the breaker is open or
// its half-open trial slots are taken.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the breaker. Zero values take defaults.
type Settings struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// Cooldown is how long the breaker stays open before letting trial calls through.
	Cooldown time.Duration
	// Trials is the number of calls let through while half-open; that many
	// successes close the breaker again.
	Trials uint32
	// IsFailure classifies errors. Errors it rejects count as successes.
	IsFailure func(error) bool
	// OnStateChange is called after the breaker lock is released.
	OnStateChange func(name string, from, to State)
}

// Breaker stops calling a failing dependency until it has had time to
// recover.
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time

	mu          sync.Mutex
	state       State
	generation  uint64
	failures    uint32
	successes   uint32
	inFlight    uint32
	openedUntil time.Time
}

// New creates a closed breaker.
func New(name string, settings Settings) *Breaker {
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = 5
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.Trials == 0 {
		settings.Trials = 1
	}
	if settings.IsFailure == nil {
		settings.IsFailure = func(err error) bool { return err != nil }
	}
	return &Breaker{name: name, settings: settings, now: time.Now}
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, moving open to half-open once the
// cooldown has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	state, change := b.refresh()
	b.mu.Unlock()
	b.notify(change)
	return state
}

// Do calls fn unless the breaker is open. A panic in fn counts as a failure
// and is re-raised.
func (b *Breaker) Do(fn func() error) error {
	gen, err := b.acquire()
	if err != nil {
		return err
	}

	failed := true
	defer func() {
		b.release(gen, failed)
	}()

	err = fn()
	failed = b.settings.IsFailure(err)
	return err
}

type transition struct {
	from, to State
	changed  bool
}

func (b *Breaker) notify(t transition) {
	if t.changed && b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, t.from, t.to)
	}
}

func (b *Breaker) acquire() (uint64, error) {
	b.mu.Lock()
	state, change := b.refresh()
	var err error
	switch state {
	case StateOpen:
		err = ErrOpen
	case StateHalfOpen:
		if b.inFlight >= b.settings.Trials {
			err = ErrOpen
		}
	}
	if err == nil {
		b.inFlight++
	}
	gen := b.generation
	b.mu.Unlock()

	b.notify(change)
	return gen, err
}

func (b *Breaker) release(gen uint64, failed bool) {
	b.mu.Lock()
	if gen != b.generation {
		// The state moved on while the call was running.
		b.mu.Unlock()
		return
	}
	if b.inFlight > 0 {
		b.inFlight--
	}

	var change transition
	switch b.state {
	case StateClosed:
		if failed {
			b.failures++
			if b.failures >= b.settings.FailureThreshold {
				change = b.setState(StateOpen)
			}
		} else {
			b.failures = 0
		}
	case StateHalfOpen:
		if failed {
			change = b.setState(StateOpen)
		} else {
			b.successes++
			if b.successes >= b.settings.Trials {
				change = b.setState(StateClosed)
			}
		}
	}
	b.mu.Unlock()

	b.notify(change)
}

func (b *Breaker) refresh() (State, transition) {
	if b.state == StateOpen && !b.now().Before(b.openedUntil) {
		return StateHalfOpen, b.setState(StateHalfOpen)
	}
	return b.state, transition{}
}

func (b *Breaker) setState(to State) transition {
	from := b.state
	if from == to {
		return transition{}
	}
	b.state = to
	b.generation++
	b.failures = 0
	b.successes = 0
	b.inFlight = 0
	if to == StateOpen {
		b.openedUntil = b.now().Add(b.settings.Cooldown)
	}
	return transition{from: from, to: to, changed: true}
}
