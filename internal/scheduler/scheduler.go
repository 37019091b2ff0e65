// Package scheduler is a durable delayed-job runner. Jobs live in a Store, so
// pending work survives restarts; delivery is at-least-once.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	appErrors "github.com/unclebandit/campaign-lifecycle/internal/errors"
	"github.com/unclebandit/campaign-lifecycle/internal/metrics"
	"github.com/unclebandit/campaign-lifecycle/internal/model"
)

// HandlerFunc runs a due job. A returned error schedules a retry until the
// job's attempts are exhausted.
type HandlerFunc func(ctx context.Context, job model.ScheduledJob) error

type Scheduler struct {
	store       Store
	instance    string
	workers     int
	batchSize   int
	maxAttempts int
	retryDelay  time.Duration
	staleAfter  time.Duration
	maxIdle     time.Duration
	maintenance string
	clock       func() time.Time
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	wake     chan struct{}
}

type Option func(*Scheduler)

func WithInstanceID(id string) Option       { return func(s *Scheduler) { s.instance = id } }
func WithWorkers(n int) Option              { return func(s *Scheduler) { s.workers = n } }
func WithBatchSize(n int) Option            { return func(s *Scheduler) { s.batchSize = n } }
func WithMaxAttempts(n int) Option          { return func(s *Scheduler) { s.maxAttempts = n } }
func WithRetryDelay(d time.Duration) Option { return func(s *Scheduler) { s.retryDelay = d } }
func WithStaleAfter(d time.Duration) Option { return func(s *Scheduler) { s.staleAfter = d } }
func WithLogger(l *slog.Logger) Option      { return func(s *Scheduler) { s.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }

// WithMaxIdle caps how long Run sleeps without re-reading the store. Jobs
// added by other processes are only noticed after this delay.
func WithMaxIdle(d time.Duration) Option { return func(s *Scheduler) { s.maxIdle = d } }

// WithMaintenanceSchedule sets the cron expression for stale-claim recovery.
func WithMaintenanceSchedule(spec string) Option {
	return func(s *Scheduler) { s.maintenance = spec }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func New(store Store, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		store:       store,
		instance:    uuid.NewString(),
		workers:     4,
		batchSize:   50,
		maxAttempts: 5,
		retryDelay:  time.Minute,
		staleAfter:  15 * time.Minute,
		maxIdle:     time.Minute,
		maintenance: "@every 1m",
		clock:       time.Now,
		logger:      slog.Default(),
		handlers:    make(map[string]HandlerFunc),
		wake:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	v := &appErrors.ValidationError{}
	if store == nil {
		v.Add(errors.New("store is required"))
	}
	if s.instance == "" {
		v.Add(errors.New("instance id must not be empty"))
	}
	if s.workers <= 0 {
		v.Add(fmt.Errorf("workers must be positive, got %d", s.workers))
	}
	if s.batchSize <= 0 {
		v.Add(fmt.Errorf("batch size must be positive, got %d", s.batchSize))
	}
	if s.maxAttempts <= 0 {
		v.Add(fmt.Errorf("max attempts must be positive, got %d", s.maxAttempts))
	}
	if s.maxIdle <= 0 {
		v.Add(fmt.Errorf("max idle must be positive, got %s", s.maxIdle))
	}
	if _, err := cron.ParseStandard(s.maintenance); err != nil {
		v.Add(fmt.Errorf("maintenance schedule %q: %w", s.maintenance, err))
	}
	if v.HasError() {
		return nil, v
	}
	s.logger = s.logger.With("component", "scheduler", "instance", s.instance)
	return s, nil
}

// Register binds handler to eventName, replacing any previous binding.
func (s *Scheduler) Register(eventName string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[eventName] = handler
}

type JobOption func(*model.ScheduledJob)

// WithDedupeKey makes the new job replace any still-pending job with the
// same key.
func WithDedupeKey(key string) JobOption {
	return func(j *model.ScheduledJob) { j.DedupeKey = &key }
}

func WithJobAttempts(n int) JobOption {
	return func(j *model.ScheduledJob) { j.MaxAttempts = n }
}

// AddJob persists a job that fires at executeAt with payload encoded as JSON.
func (s *Scheduler) AddJob(ctx context.Context, eventName string, payload any, executeAt time.Time, opts ...JobOption) (*model.ScheduledJob, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &appErrors.SchedulingError{EventName: eventName, Err: err}
	}
	job := &model.ScheduledJob{
		EventName:   eventName,
		Payload:     data,
		ExecuteAt:   executeAt,
		Status:      model.JobPending,
		MaxAttempts: s.maxAttempts,
	}
	for _, opt := range opts {
		opt(job)
	}
	if err := s.store.Upsert(ctx, job); err != nil {
		return nil, &appErrors.SchedulingError{EventName: eventName, Err: err}
	}
	s.logger.Info("job scheduled", "job_id", job.ID, "event", eventName, "execute_at", executeAt)
	s.signal()
	return job, nil
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run dispatches due jobs until ctx is cancelled. It sleeps until the
// earliest pending execute_at and is woken early by AddJob and by finished
// jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.store.UnlockStale(ctx, s.clock().Add(-s.staleAfter)); err != nil {
		s.logger.Error("unlock stale jobs at startup", "err", err)
	}

	c := cron.New()
	if _, err := c.AddFunc(s.maintenance, func() { s.maintain(ctx) }); err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	sem := semaphore.NewWeighted(int64(s.workers))
	var wg sync.WaitGroup

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-timer.C:
		case <-s.wake:
		}
		s.dispatchDue(ctx, sem, &wg)
		timer.Reset(s.untilNext(ctx))
	}
}

func (s *Scheduler) untilNext(ctx context.Context) time.Duration {
	next, err := s.store.NextDue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("read next due job", "err", err)
		}
		return s.maxIdle
	}
	if next == nil {
		return s.maxIdle
	}
	d := next.Sub(s.clock())
	if d < 0 {
		return 0
	}
	if d > s.maxIdle {
		return s.maxIdle
	}
	return d
}

func (s *Scheduler) dispatchDue(ctx context.Context, sem *semaphore.Weighted, wg *sync.WaitGroup) {
	jobs, err := s.store.FetchDue(ctx, s.clock(), s.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("fetch due jobs", "err", err)
		}
		return
	}

	for _, job := range jobs {
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		ok, err := s.store.Claim(ctx, job.ID, s.instance)
		if err != nil || !ok {
			sem.Release(1)
			if err != nil {
				s.logger.Warn("claim job", "job_id", job.ID, "err", err)
			}
			continue
		}
		wg.Add(1)
		go func(job model.ScheduledJob) {
			defer func() {
				sem.Release(1)
				wg.Done()
				s.signal()
			}()
			s.execute(ctx, job)
		}(job)
	}
}

func (s *Scheduler) execute(ctx context.Context, job model.ScheduledJob) {
	lag := s.clock().Sub(job.ExecuteAt)
	err := s.invoke(ctx, job)

	// Bookkeeping must land even when shutdown cancelled the handler.
	ctx = context.WithoutCancel(ctx)
	log := s.logger.With("job_id", job.ID, "event", job.EventName, "attempt", job.Attempts+1)

	if err == nil {
		if err := s.transition(ctx, job, model.JobSucceeded, ""); err != nil {
			log.Error("mark job succeeded", "err", err)
		}
		s.metrics.ObserveJob(job.EventName, string(model.JobSucceeded), lag)
		log.Info("job succeeded")
		return
	}

	if job.Attempts+1 >= job.MaxAttempts {
		if terr := s.transition(ctx, job, model.JobDead, err.Error()); terr != nil {
			log.Error("mark job dead", "err", terr)
		}
		s.metrics.ObserveJob(job.EventName, string(model.JobDead), lag)
		log.Error("job failed permanently", "err", err)
		return
	}

	if terr := s.transition(ctx, job, model.JobPending, err.Error()); terr != nil {
		log.Error("reschedule job", "err", terr)
	}
	s.metrics.ObserveJob(job.EventName, "retry", lag)
	log.Warn("job failed, will retry", "err", err)
}

func (s *Scheduler) invoke(ctx context.Context, job model.ScheduledJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job %d: %v", job.ID, r)
		}
	}()

	s.mu.RLock()
	handler, ok := s.handlers[job.EventName]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler registered for %q", job.EventName)
	}
	return handler(ctx, job)
}

func (s *Scheduler) transition(ctx context.Context, job model.ScheduledJob, to model.JobStatus, errMsg string) error {
	if !IsValidTransition(model.JobProcessing, to) {
		return fmt.Errorf("invalid job transition %s -> %s", model.JobProcessing, to)
	}
	switch to {
	case model.JobSucceeded:
		return s.store.MarkSucceeded(ctx, job.ID)
	case model.JobDead:
		return s.store.MarkDead(ctx, job.ID, errMsg)
	default:
		retryAt := s.clock().Add(s.retryDelay * time.Duration(job.Attempts+1))
		return s.store.MarkRetry(ctx, job.ID, errMsg, retryAt)
	}
}

func (s *Scheduler) maintain(ctx context.Context) {
	n, err := s.store.UnlockStale(ctx, s.clock().Add(-s.staleAfter))
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("unlock stale jobs", "err", err)
		}
		return
	}
	if n > 0 {
		s.logger.Warn("released stale job claims", "count", n)
		s.signal()
	}
}
