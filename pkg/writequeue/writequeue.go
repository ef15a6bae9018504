// Package writequeue runs a single writer goroutine that drains a FIFO of
// byte buffers strictly in enqueue order. Producers never block on the
// writer: Enqueue only takes the queue lock.
package writequeue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fluxorio/randomfile/pkg/core"
	"github.com/fluxorio/randomfile/pkg/core/failfast"
)

var (
	// ErrClosed is returned by Enqueue and Flush after Close.
	ErrClosed = errors.New("write queue is closed")

	// ErrBackpressure is returned when MaxQueuedBytes would be exceeded.
	ErrBackpressure = errors.New("write queue is full")

	// ErrPoisoned wraps the first write failure; once set, every later
	// Enqueue fails with it and Close returns it.
	ErrPoisoned = errors.New("writer failed")
)

// WriteFunc performs one job against stable storage.
type WriteFunc func(p []byte) error

// Options tunes a Queue. The zero value is usable.
type Options struct {
	// MaxQueuedBytes bounds bytes accepted but not yet written,
	// including the job currently being written. 0 means unbounded.
	MaxQueuedBytes int64

	// OnWritten runs on the writer goroutine after each successful job.
	OnWritten func(n int)

	// OnError runs on the writer goroutine once, when the queue is poisoned.
	OnError func(err error)

	Logger core.Logger
}

type job struct {
	data []byte
	// non-nil for Flush barriers
	barrier chan struct{}
}

// Stats exposes queue counters.
type Stats struct {
	QueuedJobs   int64
	QueuedBytes  int64
	WrittenJobs  int64
	WrittenBytes int64
	// DroppedJobs were accepted before the queue was poisoned and never written.
	DroppedJobs  int64
	RejectedJobs int64
}

// Queue is a multi-producer, single-consumer write queue.
type Queue struct {
	write  WriteFunc
	opts   Options
	logger core.Logger

	mu     sync.Mutex
	jobs   []job
	head   int
	closed bool
	err    error

	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup

	queuedJobs   atomic.Int64
	queuedBytes  atomic.Int64
	writtenJobs  atomic.Int64
	writtenBytes atomic.Int64
	droppedJobs  atomic.Int64
	rejectedJobs atomic.Int64
}

// New starts the writer goroutine. It runs until Close.
func New(write WriteFunc, opts Options) *Queue {
	failfast.NotNil(write, "write")
	logger := opts.Logger
	if logger == nil {
		logger = core.NewNopLogger()
	}
	q := &Queue{
		write:  write,
		opts:   opts,
		logger: logger,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Enqueue appends p to the FIFO tail and returns immediately. The queue
// keeps p as given; callers that reuse buffers must copy first.
func (q *Queue) Enqueue(p []byte) error {
	size := int64(len(p))

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.err != nil {
		err := q.err
		q.mu.Unlock()
		return err
	}
	if max := q.opts.MaxQueuedBytes; max > 0 && q.queuedBytes.Load()+size > max {
		q.mu.Unlock()
		q.rejectedJobs.Add(1)
		return ErrBackpressure
	}
	q.jobs = append(q.jobs, job{data: p})
	q.queuedJobs.Add(1)
	q.queuedBytes.Add(size)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Flush blocks until every job enqueued before the call has been handled
// (written or dropped), ctx is done, or the queue closes.
func (q *Queue) Flush(ctx context.Context) error {
	b := make(chan struct{})
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.jobs = append(q.jobs, job{barrier: b})
	q.mu.Unlock()
	q.signal()

	select {
	case <-b:
		return q.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Err returns the poison error, or nil.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Close stops accepting jobs, waits for every queued job to drain and
// returns the poison error if the writer failed. Safe to call repeatedly.
func (q *Queue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	q.mu.Unlock()

	q.wg.Wait()
	return q.Err()
}

// Stats snapshots the counters.
func (q *Queue) Stats() Stats {
	return Stats{
		QueuedJobs:   q.queuedJobs.Load(),
		QueuedBytes:  q.queuedBytes.Load(),
		WrittenJobs:  q.writtenJobs.Load(),
		WrittenBytes: q.writtenBytes.Load(),
		DroppedJobs:  q.droppedJobs.Load(),
		RejectedJobs: q.rejectedJobs.Load(),
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		j, ok, stop := q.next()
		if ok {
			q.execute(j)
			continue
		}
		if stop {
			return
		}
		select {
		case <-q.notify:
		case <-q.done:
		}
	}
}

// next pops the FIFO head. stop is true once the queue is closed and empty.
func (q *Queue) next() (j job, ok bool, stop bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head < len(q.jobs) {
		j = q.jobs[q.head]
		q.jobs[q.head] = job{}
		q.head++
		if q.head == len(q.jobs) {
			q.jobs = q.jobs[:0]
			q.head = 0
		}
		return j, true, false
	}
	return job{}, false, q.closed
}

func (q *Queue) execute(j job) {
	if j.barrier != nil {
		close(j.barrier)
		return
	}
	size := int64(len(j.data))
	defer func() {
		q.queuedJobs.Add(-1)
		q.queuedBytes.Add(-size)
	}()

	if q.Err() != nil {
		q.droppedJobs.Add(1)
		return
	}
	if err := q.write(j.data); err != nil {
		poison := fmt.Errorf("%w: %w", ErrPoisoned, err)
		q.mu.Lock()
		q.err = poison
		q.mu.Unlock()
		q.droppedJobs.Add(1)
		q.logger.Errorf("queued write of %d bytes failed, dropping further jobs: %v", size, err)
		if q.opts.OnError != nil {
			q.opts.OnError(poison)
		}
		return
	}
	q.writtenJobs.Add(1)
	q.writtenBytes.Add(size)
	if q.opts.OnWritten != nil {
		q.opts.OnWritten(len(j.data))
	}
}
