package core

import "context"

// Func is a routine that runs fn once and finishes.
func Func(fn func(ctx context.Context) error) Routine {
	return funcRoutine(fn)
}

type funcRoutine func(ctx context.Context) error

func (f funcRoutine) Step(ctx context.Context) (Suspend, error) {
	if err := f(ctx); err != nil {
		return Done(), err
	}
	return Done(), nil
}

// Steps runs one function per resume, yielding between them.
func Steps(steps ...func(ctx context.Context) error) Routine {
	return &stepsRoutine{steps: steps}
}

type stepsRoutine struct {
	steps []func(ctx context.Context) error
	next  int
}

func (r *stepsRoutine) Step(ctx context.Context) (Suspend, error) {
	if r.next >= len(r.steps) {
		return Done(), nil
	}
	fn := r.steps[r.next]
	r.next++
	if err := fn(ctx); err != nil {
		return Done(), err
	}
	if r.next == len(r.steps) {
		return Done(), nil
	}
	return Yield(), nil
}

// Repeat calls fn n times, one call per resume, passing the iteration index.
// The task yields between iterations.
func Repeat(n int, fn func(ctx context.Context, i int) error) Routine {
	return &repeatRoutine{n: n, fn: fn}
}

type repeatRoutine struct {
	n, i int
	fn   func(ctx context.Context, i int) error
}

func (r *repeatRoutine) Step(ctx context.Context) (Suspend, error) {
	if r.i >= r.n {
		return Done(), nil
	}
	i := r.i
	r.i++
	if r.fn != nil {
		if err := r.fn(ctx, i); err != nil {
			return Done(), err
		}
	}
	if r.i == r.n {
		return Done(), nil
	}
	return Yield(), nil
}
