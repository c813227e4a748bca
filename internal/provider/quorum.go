package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
)

// tally accumulates weighted answers until one can be accepted.
type tally[T any] interface {
	add(value T, weight int) (T, bool)
}

// agreeTally accepts a value once endpoints carrying at least need weight
// returned an identical answer.
type agreeTally[T any] struct {
	need   int
	counts map[string]int
}

func newAgreeTally[T any](need int) *agreeTally[T] {
	return &agreeTally[T]{need: need, counts: make(map[string]int)}
}

func (t *agreeTally[T]) add(value T, weight int) (T, bool) {
	key, err := json.Marshal(value)
	if err != nil {
		return value, false
	}
	t.counts[string(key)] += weight
	return value, t.counts[string(key)] >= t.need
}

// medianTally accepts the weighted median once the answering endpoints
// carry at least need weight. Used where honest nodes may legitimately
// disagree by a small amount (block height, gas estimates).
type medianTally struct {
	need   int
	total  int
	values []weighted
}

type weighted struct {
	value  uint64
	weight int
}

func (t *medianTally) add(value uint64, weight int) (uint64, bool) {
	t.values = append(t.values, weighted{value: value, weight: weight})
	t.total += weight
	if t.total < t.need {
		return 0, false
	}
	sorted := make([]weighted, len(t.values))
	copy(sorted, t.values)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].value < sorted[b].value })
	half := (t.total + 1) / 2
	acc := 0
	for _, v := range sorted {
		acc += v.weight
		if acc >= half {
			return v.value, true
		}
	}
	return sorted[len(sorted)-1].value, true
}

type vote[T any] struct {
	endpoint string
	weight   int
	value    T
	err      error
}

// resolve fans fn out to every member and returns as soon as the tally
// accepts an answer. Node-reported errors that classify maps to the same
// sentinel also vote; a quorum of them fails the call with that sentinel.
// When no quorum forms, fail builds the error from the individual endpoint
// errors.
func resolve[T any](
	ctx context.Context,
	members []member,
	need int,
	t tally[T],
	fn func(context.Context, Backend) (T, error),
	classify func(error) error,
	fail func(errs []error) error,
) (T, error) {
	var zero T
	if len(members) == 0 {
		return zero, fail(nil)
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	votes := make(chan vote[T], len(members))
	for _, m := range members {
		go func(m member) {
			value, err := fn(callCtx, m.backend)
			votes <- vote[T]{endpoint: m.endpoint.Name, weight: m.endpoint.EffectiveWeight(), value: value, err: err}
		}(m)
	}

	classified := make(map[error]int)
	var errs []error
	for range members {
		var v vote[T]
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case v = <-votes:
		}
		if v.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v.endpoint, v.err))
			if classify == nil {
				continue
			}
			if sentinel := classify(v.err); sentinel != nil {
				classified[sentinel] += v.weight
				if classified[sentinel] >= need {
					return zero, wrap(sentinel, v.err)
				}
			}
			continue
		}
		if accepted, ok := t.add(v.value, v.weight); ok {
			return accepted, nil
		}
	}
	return zero, fail(errs)
}

// bigMedianTally is medianTally for decimal-string big integers.
type bigMedianTally struct {
	need   int
	total  int
	values []bigWeighted
}

type bigWeighted struct {
	value  *big.Int
	weight int
}

func (t *bigMedianTally) add(value string, weight int) (string, bool) {
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return "", false
	}
	t.values = append(t.values, bigWeighted{value: parsed, weight: weight})
	t.total += weight
	if t.total < t.need {
		return "", false
	}
	sorted := make([]bigWeighted, len(t.values))
	copy(sorted, t.values)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].value.Cmp(sorted[b].value) < 0 })
	half := (t.total + 1) / 2
	acc := 0
	for _, v := range sorted {
		acc += v.weight
		if acc >= half {
			return v.value.String(), true
		}
	}
	return sorted[len(sorted)-1].value.String(), true
}
