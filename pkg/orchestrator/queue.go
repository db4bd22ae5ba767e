// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xataio/searchsync/internal/backoff"
	"github.com/xataio/searchsync/pkg/engine"
	loglib "github.com/xataio/searchsync/pkg/log"
)

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

type Handler interface {
	Handle(ctx context.Context, job Job) error
}

type HandlerFn func(ctx context.Context, job Job) error

func (fn HandlerFn) Handle(ctx context.Context, job Job) error {
	return fn(ctx, job)
}

var ErrQueueClosed = errors.New("queue is closed")

// JobFailure records a job that could not be completed once retries were
// exhausted.
type JobFailure struct {
	Job Job
	Err error
}

func (f JobFailure) Error() string {
	return fmt.Sprintf("%s job %s on %s: %v", f.Job.Kind, f.Job.ID, f.Job.IndexHandle(), f.Err)
}

func (f JobFailure) Unwrap() error {
	return f.Err
}

type LocalQueueConfig struct {
	Workers int            `mapstructure:"workers" yaml:"workers"`
	Retry   backoff.Config `mapstructure:"retry" yaml:"retry"`
}

const defaultWorkers = 4

// LocalQueue is an unbounded in-process job queue. Handlers may enqueue
// follow-up jobs without ever blocking on a full queue.
type LocalQueue struct {
	logger          loglib.Logger
	workers         int
	backoffProvider backoff.Provider

	mutex    sync.Mutex
	jobs     []Job
	closed   bool
	failures []JobFailure

	notify  chan struct{}
	done    chan struct{}
	pending sync.WaitGroup
}

type LocalQueueOption func(*LocalQueue)

func NewLocalQueue(cfg *LocalQueueConfig, opts ...LocalQueueOption) *LocalQueue {
	q := &LocalQueue{
		logger:          loglib.NewNoopLogger(),
		workers:         defaultWorkers,
		backoffProvider: backoff.NewProvider(&cfg.Retry),
		notify:          make(chan struct{}, 1),
		done:            make(chan struct{}),
	}
	if cfg.Workers > 0 {
		q.workers = cfg.Workers
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func WithQueueLogger(l loglib.Logger) LocalQueueOption {
	return func(q *LocalQueue) {
		q.logger = loglib.NewModuleLogger(l, "local_queue")
	}
}

func WithQueueBackoff(p backoff.Provider) LocalQueueOption {
	return func(q *LocalQueue) {
		q.backoffProvider = p
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mutex.Lock()
	if q.closed {
		q.mutex.Unlock()
		return ErrQueueClosed
	}
	q.jobs = append(q.jobs, job)
	q.pending.Add(1)
	q.mutex.Unlock()

	q.signal()
	return nil
}

// Run processes jobs with the configured number of workers until the context
// is cancelled or the queue is closed and drained.
func (q *LocalQueue) Run(ctx context.Context, h Handler) error {
	eg, ctx := errgroup.WithContext(ctx)
	for range q.workers {
		eg.Go(func() error {
			return q.work(ctx, h)
		})
	}
	err := eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Wait blocks until every enqueued job, including the follow-ups they
// enqueue, has been processed.
func (q *LocalQueue) Wait(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs. Workers exit once the queued jobs are done.
func (q *LocalQueue) Close() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

// Err joins the failures of the jobs processed so far.
func (q *LocalQueue) Err() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	errs := make([]error, 0, len(q.failures))
	for _, f := range q.failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

func (q *LocalQueue) Failures() []JobFailure {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return append([]JobFailure(nil), q.failures...)
}

func (q *LocalQueue) work(ctx context.Context, h Handler) error {
	for {
		job, ok := q.pop()
		if ok {
			q.process(ctx, h, job)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.notify:
		case <-q.done:
			if q.len() == 0 {
				return nil
			}
		}
	}
}

func (q *LocalQueue) process(ctx context.Context, h Handler, job Job) {
	defer q.pending.Done()

	logFields := loglib.Fields{
		"job_id":          job.ID,
		"job_kind":        string(job.Kind),
		loglib.IndexField: job.IndexHandle(),
	}
	err := RetryJob(ctx, q.backoffProvider, h, job, func(err error, d time.Duration) {
		q.logger.Warn(err, "job failed, retrying", loglib.MergeFields(logFields, loglib.Fields{"backoff": d}))
	})
	if err == nil {
		q.logger.Trace("job done", logFields)
		return
	}

	q.logger.Error(err, "job failed", logFields)
	q.mutex.Lock()
	q.failures = append(q.failures, JobFailure{Job: job, Err: err})
	q.mutex.Unlock()
}

func (q *LocalQueue) pop() (Job, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if len(q.jobs) == 0 {
		return Job{}, false
	}
	job := q.jobs[0]
	q.jobs[0] = Job{}
	q.jobs = q.jobs[1:]
	if len(q.jobs) > 0 {
		q.signal()
	}
	return job, true
}

func (q *LocalQueue) len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.jobs)
}

func (q *LocalQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// RetryJob runs the handler on the job, retrying transient failures with the
// backoff policy. Validation failures and errors marked permanent are
// returned straight away.
func RetryJob(ctx context.Context, provider backoff.Provider, h Handler, job Job, notify backoff.Notify) error {
	return provider(ctx).RetryNotify(func() error {
		err := h.Handle(ctx, job)
		if err == nil || errors.Is(err, backoff.ErrPermanent) {
			return err
		}
		if errors.Is(err, ErrCounterNotFound) || errors.Is(err, ErrStaleRun) || errors.Is(err, ErrLockUnavailable) || !engine.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, notify)
}
