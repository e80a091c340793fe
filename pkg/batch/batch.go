// Package batch fans out independent fetches and collects one outcome per
// key without letting a failure abort the rest of the batch.
package batch

import (
	"context"
	"fmt"
	"sync"
)

// Outcome is the result of one fetch: a value on success, a reason on failure.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Success wraps a fetched value.
func Success[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

// Failure wraps the reason a fetch failed.
func Failure[T any](err error) Outcome[T] {
	return Outcome[T]{Err: err}
}

// OK reports whether the outcome holds a value.
func (o Outcome[T]) OK() bool {
	return o.Err == nil
}

// Message is the raw failure text, or "" on success.
func (o Outcome[T]) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// FetchFunc fetches the value for one key.
type FetchFunc[T any] func(ctx context.Context, key string) (T, error)

// FetchAll calls fetch for every key at once and waits for all of them.
// The result has the same length and order as keys. A failing or panicking
// fetch only affects its own position. FetchAll imposes no deadline of its
// own; ctx and the fetch function bound each call.
func FetchAll[T any](ctx context.Context, keys []string, fetch FetchFunc[T]) []Outcome[T] {
	outcomes := make([]Outcome[T], len(keys))

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outcomes[i] = Failure[T](fmt.Errorf("fetching %s: panic: %v", key, r))
				}
			}()

			v, err := fetch(ctx, key)
			if err != nil {
				outcomes[i] = Failure[T](err)
				return
			}
			outcomes[i] = Success(v)
		}(i, key)
	}
	wg.Wait()

	return outcomes
}

// Dedupe returns keys without repeats, keeping first occurrences in order.
func Dedupe(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
