// Package queue implements the background fetch-request queue. Read endpoints
// enqueue tickers that need data; a worker goroutine drains the queue and runs
// deep updates, so HTTP handlers never spawn goroutines themselves.
package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Updater executes a deep update for one ticker.
type Updater interface {
	UpdateTicker(ctx context.Context, ticker string) (string, error)
}

// Job is one queued fetch request.
type Job struct {
	ID         string
	Ticker     string
	EnqueuedAt time.Time
}

// Queue is an in-process fetch-request queue with duplicate coalescing:
// enqueueing a ticker that is already pending returns the existing job.
type Queue struct {
	updater Updater
	log     zerolog.Logger

	mu      sync.Mutex
	pending map[string]Job
	jobs    chan Job

	wg sync.WaitGroup
}

// New creates a fetch queue with the given buffer capacity.
func New(updater Updater, capacity int, log zerolog.Logger) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	return &Queue{
		updater: updater,
		log:     log.With().Str("component", "queue").Logger(),
		pending: make(map[string]Job),
		jobs:    make(chan Job, capacity),
	}
}

// Enqueue adds a fetch request for a ticker. Returns the job and whether it
// was newly created; a pending duplicate returns the existing job unchanged.
// A full queue drops the request with an error.
func (q *Queue) Enqueue(ticker string) (Job, bool, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return Job{}, false, fmt.Errorf("empty ticker")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if job, ok := q.pending[ticker]; ok {
		return job, false, nil
	}

	job := Job{
		ID:         uuid.New().String(),
		Ticker:     ticker,
		EnqueuedAt: time.Now(),
	}

	select {
	case q.jobs <- job:
		q.pending[ticker] = job
	default:
		return Job{}, false, fmt.Errorf("fetch queue full")
	}

	q.log.Debug().Str("job_id", job.ID).Str("ticker", ticker).Msg("Enqueued fetch request")
	return job, true, nil
}

// Pending reports whether a fetch request for the ticker is queued or running.
func (q *Queue) Pending(ticker string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[strings.ToUpper(strings.TrimSpace(ticker))]
	return ok
}

// Depth returns the number of pending fetch requests.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Start launches the worker goroutine. It drains jobs until ctx is canceled;
// Wait blocks until the worker has exited.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.work(ctx)
	}()
	q.log.Info().Msg("Fetch queue worker started")
}

// Wait blocks until the worker goroutine has stopped.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.log.Info().Msg("Fetch queue worker stopping")
			return
		case job := <-q.jobs:
			q.process(ctx, job)
		}
	}
}

func (q *Queue) process(ctx context.Context, job Job) {
	// Mark done whatever happens so the ticker can be requeued
	defer func() {
		q.mu.Lock()
		delete(q.pending, job.Ticker)
		q.mu.Unlock()
	}()

	start := time.Now()
	outcome, err := q.updater.UpdateTicker(ctx, job.Ticker)
	if err != nil {
		q.log.Error().Err(err).
			Str("job_id", job.ID).
			Str("ticker", job.Ticker).
			Msg("Fetch job failed")
		return
	}

	q.log.Info().
		Str("job_id", job.ID).
		Str("ticker", job.Ticker).
		Dur("duration", time.Since(start)).
		Msg(outcome)
}
