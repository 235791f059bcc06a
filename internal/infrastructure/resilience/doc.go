/*
Package resilience provides a circuit breaker for calls into dependencies
that may fail for long stretches, such as the session store.

# Usage

	breaker := resilience.New("store", resilience.Settings{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, store.ErrNotFound)
		},
	})

	err := breaker.Do(func() error {
		return db.Save(ctx, row)
	})
	if errors.Is(err, resilience.ErrOpen) {
		// skipped without touching the database
	}

# States

	Closed --[threshold failures]-> Open --[cooldown]-> Half-Open --[trial successes]-> Closed
	                                                        |
	                                                   [failure]
	                                                        v
	                                                      Open
*/
package resilience
