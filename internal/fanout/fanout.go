// Package fanout runs one task per key on a bounded pool of workers and
// collects whatever finishes before the context is done.
package fanout

import (
	"context"
	"fmt"
)

// PanicError wraps a value recovered from a worker.
type PanicError struct {
	Key   string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("worker for %q panicked: %v", e.Key, e.Value)
}

// Result is the outcome of one key's task.
type Result[T any] struct {
	Value T
	Err   error
}

type keyed[T any] struct {
	key string
	res Result[T]
}

// Run calls fn once per key with at most limit calls in flight. It returns
// the results collected before ctx was done and the keys that never
// reported. Workers still running after ctx is done are abandoned; their
// results are discarded.
func Run[T any](ctx context.Context, keys []string, limit int, fn func(ctx context.Context, key string) (T, error)) (map[string]Result[T], []string) {
	results := make(map[string]Result[T], len(keys))
	if len(keys) == 0 {
		return results, nil
	}
	if limit <= 0 || limit > len(keys) {
		limit = len(keys)
	}

	// Buffered to len(keys) so abandoned workers never block on send.
	out := make(chan keyed[T], len(keys))
	sema := make(chan struct{}, limit)

	go func() {
		for _, key := range keys {
			select {
			case sema <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(key string) {
				defer func() { <-sema }()
				out <- keyed[T]{key: key, res: call(ctx, key, fn)}
			}(key)
		}
	}()

	for len(results) < len(keys) {
		select {
		case r := <-out:
			results[r.key] = r.res
		case <-ctx.Done():
			drain(out, results)
			var pending []string
			for _, key := range keys {
				if _, ok := results[key]; !ok {
					pending = append(pending, key)
				}
			}
			return results, pending
		}
	}
	return results, nil
}

// drain picks up results that were already delivered when ctx finished.
func drain[T any](out <-chan keyed[T], results map[string]Result[T]) {
	for {
		select {
		case r := <-out:
			results[r.key] = r.res
		default:
			return
		}
	}
}

func call[T any](ctx context.Context, key string, fn func(context.Context, string) (T, error)) (res Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			res = Result[T]{Err: &PanicError{Key: key, Value: r}}
		}
	}()
	v, err := fn(ctx, key)
	return Result[T]{Value: v, Err: err}
}
