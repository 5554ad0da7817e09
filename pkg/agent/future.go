// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package agent

import "context"

// Result is the outcome of an asynchronous operation.
type Result struct {
	Value any
	Err   error
}

// Future is a pending result. Operations and handlers may return a Future
// (or a <-chan Result); the engine waits for it before returning to the
// caller, so callers never see the difference.
type Future interface {
	Await(ctx context.Context) (any, error)
}

// Go runs fn in a new goroutine and returns a Future for its result.
func Go(ctx context.Context, fn func(ctx context.Context) (any, error)) Future {
	ch := make(chan Result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- Result{Value: v, Err: err}
	}()
	return ChanFuture(ch)
}

// Resolved returns a Future that is already complete with v.
func Resolved(v any) Future {
	return doneFuture{Result{Value: v}}
}

// Rejected returns a Future that is already complete with err.
func Rejected(err error) Future {
	return doneFuture{Result{Err: err}}
}

// ChanFuture adapts a result channel to a Future. A channel closed without
// a value resolves to nil.
func ChanFuture(ch <-chan Result) Future {
	return chanFuture{ch: ch}
}

type doneFuture struct {
	r Result
}

func (f doneFuture) Await(_ context.Context) (any, error) {
	return f.r.Value, f.r.Err
}

type chanFuture struct {
	ch <-chan Result
}

func (f chanFuture) Await(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-f.ch:
		return r.Value, r.Err
	}
}
