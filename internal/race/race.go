// Package race runs tasks concurrently and keeps the first result that
// qualifies. Completions that do not qualify, including failures, are
// dropped rather than ending the race.
package race

import (
	"context"
	"errors"
)

// ErrNoQualifyingResult is returned when every task finished without
// producing a qualifying value.
var ErrNoQualifyingResult = errors.New("no task produced a qualifying result")

// Task is one contender. It should honor ctx so that losing tasks can stop
// early once a winner is found.
type Task[T any] func(ctx context.Context) (T, error)

type outcome[T any] struct {
	value T
	err   error
}

// First starts every task and returns the first value for which qualifies
// returns true. Remaining tasks have their context cancelled and their
// results are ignored. When nothing qualifies the returned error wraps
// ErrNoQualifyingResult joined with every task error.
func First[T any](ctx context.Context, tasks []Task[T], qualifies func(T) bool) (T, error) {
	var zero T
	if len(tasks) == 0 {
		return zero, ErrNoQualifyingResult
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so abandoned tasks never block on send.
	results := make(chan outcome[T], len(tasks))
	for _, task := range tasks {
		go func(task Task[T]) {
			value, err := task(raceCtx)
			results <- outcome[T]{value: value, err: err}
		}(task)
	}

	errs := []error{ErrNoQualifyingResult}
	for range tasks {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case r := <-results:
			if r.err != nil {
				errs = append(errs, r.err)
				continue
			}
			if qualifies(r.value) {
				return r.value, nil
			}
		}
	}
	return zero, errors.Join(errs...)
}
