package pacer

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Operation is the unit of work executed by a Throttle. It receives the
// context the job was submitted with, bounded by the job timeout if one
// is configured.
type Operation func(ctx context.Context) (interface{}, error)

// job is owned by the queue from Submit until it is dispatched.
type job struct {
	ctx    context.Context
	op     Operation
	future *Future
}

func newJob(ctx context.Context, op Operation) *job {
	return &job{
		ctx: ctx,
		op:  op,
		future: &Future{
			id:   uuid.New().String(),
			done: make(chan struct{}),
		},
	}
}

// finish delivers the outcome of the job. Only the first call has an
// effect.
func (j *job) finish(v interface{}, err error) {
	j.future.once.Do(func() {
		j.future.value, j.future.err = v, err
		close(j.future.done)
	})
}

// Future is the single-use completion handle returned by Submit.
type Future struct {
	id   string
	once sync.Once
	done chan struct{}

	value interface{}
	err   error
}

// ID identifies the job in logs.
func (f *Future) ID() string {
	return f.id
}

// Done is closed once the job's outcome is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the job completes or ctx is done, and returns the
// operation's result or error. Giving up on the wait does not remove the
// job from the queue.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
