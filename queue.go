package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrQueueFull is returned by Enqueue when the queue has no room left.
var ErrQueueFull = errors.New("send queue is full")

// Sender delivers one SMS.
type Sender interface {
	Send(ctx context.Context, phoneNumber, text string) error
}

// Job is a queued SMS.
type Job struct {
	ID          string
	PhoneNumber string
	Text        string
	CameraID    string
	Attempts    int
}

// Rate is a sliding window limiter allowing cap events per window.
type Rate struct {
	mu     sync.Mutex
	cap    int
	window time.Duration
	events []time.Time
	now    func() time.Time
}

func NewRate(perMinute int) *Rate {
	return &Rate{cap: perMinute, window: time.Minute, now: time.Now}
}

// Allow records an event and reports true if the window has room for it.
func (r *Rate) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cut := now.Add(-r.window)
	kept := r.events[:0]
	for _, t := range r.events {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	r.events = kept

	if len(r.events) >= r.cap {
		return false
	}
	r.events = append(r.events, now)
	return true
}

// Queue buffers SMS jobs in memory and sends them from a single worker,
// rate limited and with jittered retries. Jobs are lost on shutdown.
type Queue struct {
	logger     *zap.Logger
	sender     Sender
	jobs       chan Job
	limit      *Rate
	maxRetries int
	retryDelay time.Duration
	throttle   time.Duration
	pending    atomic.Int64
}

func NewQueue(cfg QueueConfig, sender Sender, logger *zap.Logger) *Queue {
	return &Queue{
		logger:     logger.With(zap.String("component", "queue")),
		sender:     sender,
		jobs:       make(chan Job, cfg.Size),
		limit:      NewRate(cfg.RatePerMinute),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		throttle:   2 * time.Second,
	}
}

// Enqueue adds job and returns its ID, generating one if job has none.
func (q *Queue) Enqueue(job Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	q.pending.Add(1)
	select {
	case q.jobs <- job:
		q.logger.Debug("SMS queued", zap.String("id", job.ID), zap.String("to", job.PhoneNumber))
		return job.ID, nil
	default:
		q.pending.Add(-1)
		return "", ErrQueueFull
	}
}

// Pending returns the number of jobs not yet finished.
func (q *Queue) Pending() int {
	return int(q.pending.Load())
}

// Run works off the queue until ctx is done.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.process(ctx, job)
			q.pending.Add(-1)
		}
	}
}

func (q *Queue) process(ctx context.Context, job Job) {
	logger := q.logger.With(zap.String("id", job.ID), zap.String("to", job.PhoneNumber))

	for {
		for !q.limit.Allow() {
			if !wait(ctx, q.throttle) {
				return
			}
		}

		err := q.sender.Send(ctx, job.PhoneNumber, job.Text)
		if err == nil {
			logger.Info("Queued SMS sent", zap.Int("attempts", job.Attempts+1))
			return
		}

		if job.Attempts >= q.maxRetries {
			logger.Error("Queued SMS failed permanently", zap.Int("attempts", job.Attempts+1), zap.Error(err))
			return
		}
		job.Attempts++

		back := q.backoff()
		logger.Warn("Queued SMS failed, retrying", zap.Duration("backoff", back), zap.Error(err))
		if !wait(ctx, back) {
			return
		}
	}
}

// backoff returns the retry delay with up to 75% jitter added.
func (q *Queue) backoff() time.Duration {
	if q.retryDelay <= 0 {
		return 0
	}
	return q.retryDelay + rand.N(q.retryDelay*3/4+1)
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
