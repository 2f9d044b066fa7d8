package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Job is the work a Scheduler runs on every tick.
type Job func(ctx context.Context)

// Scheduler is the process-wide handle for the background sync schedule.
// Starting it twice is a no-op.
type Scheduler struct {
	spec       string
	schedule   cron.Schedule
	job        Job
	runOnStart bool

	mu      sync.Mutex
	base    context.Context
	cron    *cron.Cron
	started bool
	wg      sync.WaitGroup
}

// NewScheduler parses spec (standard 5-field cron) and returns a stopped
// scheduler. With runOnStart the job also runs once right after Start.
func NewScheduler(spec string, job Job, runOnStart bool) (*Scheduler, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", spec, err)
	}
	return &Scheduler{
		spec:       spec,
		schedule:   sched,
		job:        job,
		runOnStart: runOnStart,
		base:       context.Background(),
	}, nil
}

// Start begins running the job on schedule. It reports whether this call
// started it; false means it was already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return false
	}

	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn))
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	ctx := s.base
	c.Schedule(s.schedule, cron.FuncJob(func() { s.job(ctx) }))
	c.Start()
	s.cron = c
	s.started = true

	if s.runOnStart {
		s.wg.Go(func() { s.job(ctx) })
	}
	slog.Info("sync schedule started", "schedule", s.spec, "next", c.Entries()[0].Next)
	return true
}

// Started reports whether the schedule is running.
func (s *Scheduler) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Stop halts the schedule and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.started = false
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	s.wg.Wait()
}

// Run binds jobs to ctx, starts the schedule when autoStart is set and
// blocks until ctx is cancelled. Jobs started later through Start also run
// under ctx.
func (s *Scheduler) Run(ctx context.Context, autoStart bool) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	if autoStart {
		s.Start()
	} else {
		slog.Info("sync schedule waiting for manual start", "schedule", s.spec)
	}

	<-ctx.Done()
	s.Stop()
	slog.Info("sync schedule stopped")
	return ctx.Err()
}
