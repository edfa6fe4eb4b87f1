// Package pacer spaces calls to rate-limited upstreams. A Throttle runs
// operations one at a time in submission order with a minimum interval
// between them; a Registry holds one per upstream.
//
// Budget tracks daily call limits across groups of interchangeable
// upstreams.
package pacer // import "github.com/quotepacer/pacer"

import (
	"context"
	"fmt"
	"sync"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

// DefaultSettleDelay is the pause after each dispatched job before the
// queue is checked again.
const DefaultSettleDelay = 50 * time.Millisecond

// Throttle runs submitted operations one at a time, in submission order,
// with at least a minimum interval between the start of two consecutive
// operations. At most maxQueue jobs may wait for dispatch; further
// submissions are rejected with ErrQueueFull.
//
// A Throttle is safe for concurrent use. Its processing goroutine starts
// with the first submission and stops on Close.
type Throttle struct {
	name     string
	delay    time.Duration
	maxQueue int
	settle   time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	registry metrics.Registry
	stats    *throttleStats

	mu      sync.Mutex
	started bool
	closed  bool
	waiting int // submitted jobs that have not started, head included
	bucket  chan *job
	stop    chan struct{}
	done    chan struct{}

	// only touched by the processing goroutine
	last time.Time
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithName names the Throttle in logs and metrics.
func WithName(name string) Option {
	return func(t *Throttle) { t.name = name }
}

// WithSettleDelay sets the queue re-check delay applied after each
// dispatched job. It is independent of the minimum interval.
func WithSettleDelay(d time.Duration) Option {
	return func(t *Throttle) {
		if d < 0 {
			d = 0
		}
		t.settle = d
	}
}

// WithJobTimeout bounds the context each operation runs with. Zero means
// no timeout: an operation that never returns stalls the queue.
func WithJobTimeout(d time.Duration) Option {
	return func(t *Throttle) {
		if d < 0 {
			d = 0
		}
		t.timeout = d
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(t *Throttle) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithMetrics registers the Throttle's counters in r instead of a private
// registry.
func WithMetrics(r metrics.Registry) Option {
	return func(t *Throttle) {
		if r != nil {
			t.registry = r
		}
	}
}

// New creates a Throttle dispatching at most one job per freq.Delay() and
// holding at most maxQueue waiting jobs. A maxQueue below 1 is treated
// as 1.
func New(freq Delayer, maxQueue int, opts ...Option) *Throttle {
	if maxQueue < 1 {
		maxQueue = 1
	}
	var delay time.Duration
	if freq != nil {
		delay = freq.Delay()
	}
	t := &Throttle{
		name:     "default",
		delay:    delay,
		maxQueue: maxQueue,
		settle:   DefaultSettleDelay,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.registry == nil {
		t.registry = metrics.NewRegistry()
	}
	t.stats = newThrottleStats(t.registry, t.name, t.Len)
	t.logger = t.logger.With(zap.String("throttle", t.name))
	return t
}

// Name returns the name given with WithName.
func (t *Throttle) Name() string {
	return t.name
}

// Interval returns the minimum spacing between dispatches.
func (t *Throttle) Interval() time.Duration {
	return t.delay
}

// MaxQueue returns the maximum number of waiting jobs.
func (t *Throttle) MaxQueue() int {
	return t.maxQueue
}

// Len returns the number of jobs waiting for dispatch, including the
// head job while it waits out the interval. The job in flight, if any,
// is not counted.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waiting
}

// Stats returns a snapshot of the Throttle's counters.
func (t *Throttle) Stats() Stats {
	s := t.stats.snapshot()
	s.Queued = t.Len()
	return s
}

// Submit appends op to the queue and returns immediately. It fails with
// ErrQueueFull when maxQueue jobs are already waiting, and with ErrClosed
// after Close. ctx is handed to op; a job whose ctx is done by the time
// it reaches the head of the queue is not run.
func (t *Throttle) Submit(ctx context.Context, op Operation) (*Future, error) {
	if op == nil {
		return nil, ErrNilOperation
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.start()

	j := newJob(ctx, op)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if t.waiting >= t.maxQueue {
		t.stats.rejected.Inc(1)
		t.logger.Warn("queue is full, rejecting job",
			zap.String("job", j.future.id),
			zap.Int("max_queue", t.maxQueue))
		return nil, ErrQueueFull
	}
	// The bucket never holds more than waiting jobs, so this never blocks.
	t.waiting++
	t.bucket <- j
	t.stats.submitted.Inc(1)
	return j.future, nil
}

// Enqueue submits op and waits for its outcome. It returns whatever op
// returns, or ErrQueueFull/ErrClosed without invoking op.
func (t *Throttle) Enqueue(ctx context.Context, op Operation) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	f, err := t.Submit(ctx, op)
	if err != nil {
		return nil, err
	}
	return f.Wait(ctx)
}

// Close stops accepting jobs, fails the jobs still waiting with ErrClosed,
// and returns once the job in flight has completed.
func (t *Throttle) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	if !t.started {
		t.mu.Unlock()
		return
	}
	close(t.stop)
	// Safe: senders check closed under mu
	close(t.bucket)
	t.mu.Unlock()

	<-t.done
}

func (t *Throttle) String() string {
	return fmt.Sprintf("throttle(%s, interval=%s, max_queue=%d)", t.name, t.delay, t.maxQueue)
}

// start prepares the queue and launches the processing goroutine. It is
// idempotent.
func (t *Throttle) start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.closed {
		return
	}
	t.bucket = make(chan *job, t.maxQueue)
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	t.started = true
	go t.process()
}

func (t *Throttle) process() {
	defer close(t.done)
	for j := range t.bucket {
		if t.stopping() || !t.wait() {
			t.leave()
			j.finish(nil, ErrClosed)
			continue
		}
		if err := j.ctx.Err(); err != nil {
			t.leave()
			t.logger.Debug("skipping cancelled job", zap.String("job", j.future.id), zap.Error(err))
			j.finish(nil, err)
			continue
		}
		t.leave()
		t.dispatch(j)
		t.pause(t.settle)
	}
}

// leave takes the head job out of the waiting count, once it starts or
// is dropped.
func (t *Throttle) leave() {
	t.mu.Lock()
	t.waiting--
	t.mu.Unlock()
}

// wait blocks until the minimum interval since the last dispatch has
// elapsed. It reports false if the Throttle was closed meanwhile.
func (t *Throttle) wait() bool {
	if t.last.IsZero() {
		return true
	}
	d := time.Until(t.last.Add(t.delay))
	if d <= 0 {
		return true
	}
	return t.pause(d)
}

func (t *Throttle) pause(d time.Duration) bool {
	if d <= 0 {
		return !t.stopping()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-t.stop:
		return false
	}
}

func (t *Throttle) stopping() bool {
	select {
	case <-t.stop:
		return true
	default:
		return false
	}
}

func (t *Throttle) dispatch(j *job) {
	now := time.Now()
	if !t.last.IsZero() {
		t.stats.spacing.Update(now.Sub(t.last))
	}
	t.last = now
	t.stats.dispatched.Inc(1)
	t.logger.Debug("dispatching job", zap.String("job", j.future.id))

	ctx := j.ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	v, err := run(ctx, j.op)
	if err != nil {
		t.stats.failed.Inc(1)
		t.logger.Debug("job failed", zap.String("job", j.future.id), zap.Error(err))
	}
	j.finish(v, err)
}

// run isolates a panicking operation to its own job.
func run(ctx context.Context, op Operation) (v interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &PanicError{Value: r}
		}
	}()
	return op(ctx)
}
