package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// ScheduleTime is a wall-clock time of day in the server's location.
type ScheduleTime struct {
	Hour   int
	Minute int
}

func (st ScheduleTime) String() string {
	return fmt.Sprintf("%02d:%02d", st.Hour, st.Minute)
}

// ParseScheduleTime parses "H:MM" or "HH:MM".
func ParseScheduleTime(s string) (ScheduleTime, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return ScheduleTime{}, fmt.Errorf("invalid schedule time %q (expected HH:MM): %w", s, err)
	}
	return ScheduleTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// next returns the first occurrence of st strictly after now.
func (st ScheduleTime) next(now time.Time) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), st.Hour, st.Minute, 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// JobProvider lists the jobs for one scheduled run.
type JobProvider func(context.Context) ([]Job, error)

type Config struct {
	ScheduleTimes []string
	RunOnStartup  bool
	JobProvider   JobProvider
}

const providerTimeout = 5 * time.Minute

// Scheduler submits the provider's jobs to a worker pool at fixed times of
// day. The pool is owned by the caller so that on-demand jobs can share it.
type Scheduler struct {
	pool         *WorkerPool
	slots        []ScheduleTime
	runOnStartup bool
	jobProvider  JobProvider

	now  func() time.Time
	wait func(time.Duration) <-chan time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(pool *WorkerPool, cfg Config) (*Scheduler, error) {
	slots := make([]ScheduleTime, 0, len(cfg.ScheduleTimes))
	for _, raw := range cfg.ScheduleTimes {
		st, err := ParseScheduleTime(raw)
		if err != nil {
			return nil, err
		}
		slots = append(slots, st)
	}
	if len(slots) == 0 {
		return nil, errors.New("at least one schedule time is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	log.Printf("Scheduler initialized with slots %v", slots)

	return &Scheduler{
		pool:         pool,
		slots:        slots,
		runOnStartup: cfg.RunOnStartup,
		jobProvider:  cfg.JobProvider,
		now:          time.Now,
		wait:         time.After,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start launches the schedule loop. The worker pool must be started
// separately.
func (s *Scheduler) Start() {
	if s.runOnStartup {
		s.TriggerNow()
	}
	s.wg.Add(1)
	go s.loop()
}

// loop sleeps until the next slot, runs it, and repeats. Computing the
// next slot after each run means a run that overlaps a later slot skips it
// instead of queueing a second batch.
func (s *Scheduler) loop() {
	defer s.wg.Done()

	for {
		next := s.NextScheduledTime()
		select {
		case <-s.ctx.Done():
			return
		case <-s.wait(next.Sub(s.now())):
			log.Printf("Scheduler: running %s batch", next.Format("15:04"))
			s.runJobs()
		}
	}
}

// runJobs submits the provider's jobs and returns how many were accepted.
func (s *Scheduler) runJobs() int {
	if s.jobProvider == nil {
		return 0
	}

	ctx, cancel := context.WithTimeout(s.ctx, providerTimeout)
	defer cancel()

	jobs, err := s.jobProvider(ctx)
	if err != nil {
		log.Printf("Scheduler: failed to list jobs: %v", err)
		return 0
	}
	if len(jobs) == 0 {
		return 0
	}
	return s.pool.SubmitBatch(jobs)
}

// Shutdown stops the schedule loop and waits up to timeout for an
// in-progress batch submission. It does not stop the worker pool.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Scheduler stopped")
	case <-time.After(timeout):
		log.Println("Scheduler: timed out waiting for the loop to stop")
	}
}

// TriggerNow runs a batch immediately, outside the schedule.
func (s *Scheduler) TriggerNow() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runJobs()
	}()
}

// NextScheduledTime is the earliest slot strictly after now.
func (s *Scheduler) NextScheduledTime() time.Time {
	now := s.now()
	var next time.Time
	for _, st := range s.slots {
		if t := st.next(now); next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next
}
