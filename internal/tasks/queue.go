// Package tasks runs background jobs off the request path. Jobs for the same
// conversation execute serially in submission order; jobs for different
// conversations run concurrently, bounded by a global in-flight cap.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var ErrQueueClosed = errors.New("task queue is closed")

const DefaultMaxInFlight = 256

// Job is one unit of background work. Run receives the queue's lifecycle
// context, which is cancelled when the queue shuts down.
type Job struct {
	ID             string
	Kind           string
	ConversationID string
	Run            func(ctx context.Context) error
}

// JobError surfaces a failed job on the Errors channel. Failures never stop
// the worker; the next job for the conversation still runs.
type JobError struct {
	JobID          string    `json:"job_id"`
	Kind           string    `json:"kind"`
	ConversationID string    `json:"conversation_id"`
	ErrorText      string    `json:"error"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type Options struct {
	MaxInFlight int
	Logger      *slog.Logger
}

// Queue is the in-process job runner.
type Queue struct {
	maxInFlight int
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	done      chan struct{}
	ingress   chan Job
	tokens    chan struct{}
	errs      chan JobError
	closeOnce sync.Once

	mu      sync.Mutex
	closed  bool
	workers map[string]*conversationWorker

	entropy *ulid.MonotonicEntropy

	wg sync.WaitGroup
}

type conversationWorker struct {
	conversationID string
	queue          chan Job
}

func NewQueue(opts Options) (*Queue, error) {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultMaxInFlight
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		maxInFlight: opts.MaxInFlight,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		ingress:     make(chan Job, opts.MaxInFlight),
		tokens:      make(chan struct{}, opts.MaxInFlight),
		errs:        make(chan JobError, opts.MaxInFlight),
		workers:     make(map[string]*conversationWorker),
		entropy:     ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	for i := 0; i < opts.MaxInFlight; i++ {
		q.tokens <- struct{}{}
	}
	q.wg.Add(1)
	go q.runDispatcher()
	return q, nil
}

// Errors exposes failed jobs. The channel is closed by Close; a caller that
// never drains it only loses reports, never blocks the workers.
func (q *Queue) Errors() <-chan JobError {
	return q.errs
}

// Submit enqueues a job and returns its assigned id. It blocks only when the
// global in-flight cap is reached, which is the backpressure signal.
func (q *Queue) Submit(ctx context.Context, job Job) (string, error) {
	if ctx == nil {
		return "", fmt.Errorf("context is required")
	}
	if job.Run == nil {
		return "", fmt.Errorf("job has no run function")
	}
	if job.ConversationID == "" {
		return "", fmt.Errorf("job has no conversation id")
	}
	if job.ID == "" {
		job.ID = q.newJobID()
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-q.done:
		return "", ErrQueueClosed
	case <-q.tokens:
	}

	select {
	case <-ctx.Done():
		q.releaseToken()
		return "", ctx.Err()
	case <-q.done:
		q.releaseToken()
		return "", ErrQueueClosed
	case q.ingress <- job:
		q.logger.Debug("task_enqueued",
			"job_id", job.ID,
			"kind", job.Kind,
			"conversation_id", job.ConversationID,
			"in_flight", q.maxInFlight-len(q.tokens),
		)
		return job.ID, nil
	}
}

// Close stops intake, waits for queued jobs' workers to stop, and closes the
// Errors channel. Safe to call more than once.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
		q.cancel()
	})
	q.wg.Wait()
	close(q.errs)
	q.logger.Debug("task_queue_closed")
	return nil
}

func (q *Queue) newJobID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), q.entropy).String()
}

func (q *Queue) runDispatcher() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			q.drainIngress()
			q.closeWorkerQueues()
			return
		case job := <-q.ingress:
			if err := q.dispatch(job); err != nil {
				q.releaseToken()
				q.reportJobError(job, err)
			}
		}
	}
}

func (q *Queue) dispatch(job Job) error {
	worker, err := q.getOrCreateWorker(job.ConversationID)
	if err != nil {
		return err
	}
	select {
	case <-q.done:
		return ErrQueueClosed
	case worker.queue <- job:
		return nil
	}
}

// drainIngress hands jobs that Submit accepted before shutdown to their
// workers so Close still runs them. The token cap keeps the total number of
// in-flight jobs at or below each worker queue's capacity, so the sends here
// never block.
func (q *Queue) drainIngress() {
	for {
		select {
		case job := <-q.ingress:
			q.mu.Lock()
			worker := q.workerLocked(job.ConversationID)
			q.mu.Unlock()
			worker.queue <- job
		default:
			return
		}
	}
}

func (q *Queue) getOrCreateWorker(conversationID string) (*conversationWorker, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	return q.workerLocked(conversationID), nil
}

func (q *Queue) workerLocked(conversationID string) *conversationWorker {
	if worker, ok := q.workers[conversationID]; ok {
		return worker
	}
	worker := &conversationWorker{
		conversationID: conversationID,
		queue:          make(chan Job, q.maxInFlight),
	}
	q.workers[conversationID] = worker
	q.logger.Debug("task_worker_created", "conversation_id", conversationID, "worker_count", len(q.workers))
	q.wg.Add(1)
	go q.runConversationWorker(worker)
	return worker
}

func (q *Queue) runConversationWorker(worker *conversationWorker) {
	defer q.wg.Done()
	for job := range worker.queue {
		err := q.runJob(job)
		q.releaseToken()
		if err != nil {
			q.reportJobError(job, err)
		}
	}
}

func (q *Queue) runJob(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	start := time.Now()
	err = job.Run(q.ctx)
	q.logger.Debug("task_finished",
		"job_id", job.ID,
		"kind", job.Kind,
		"conversation_id", job.ConversationID,
		"duration_ms", time.Since(start).Milliseconds(),
		"ok", err == nil,
	)
	return err
}

func (q *Queue) closeWorkerQueues() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, worker := range q.workers {
		close(worker.queue)
	}
}

func (q *Queue) releaseToken() {
	select {
	case q.tokens <- struct{}{}:
	case <-q.done:
	}
}

func (q *Queue) reportJobError(job Job, err error) {
	q.logger.Warn("task_failed",
		"job_id", job.ID,
		"kind", job.Kind,
		"conversation_id", job.ConversationID,
		"error", err.Error(),
	)
	select {
	case <-q.done:
	case q.errs <- JobError{
		JobID:          job.ID,
		Kind:           job.Kind,
		ConversationID: job.ConversationID,
		ErrorText:      err.Error(),
		OccurredAt:     time.Now().UTC(),
	}:
	}
}
