// Package scheduler runs the periodic sync, snapshot and cleanup jobs.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one named periodic task.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler triggers jobs on cron expressions. A job still running when its
// next tick arrives is skipped for that tick.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	jobs   []string
}

// New registers jobs. Jobs with an empty schedule are disabled.
func New(jobs ...Job) (*Scheduler, error) {
	logger := cron.PrintfLogger(log.Default())
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, ctx: ctx, cancel: cancel}

	for _, job := range jobs {
		if job.Schedule == "" {
			log.Printf("Scheduler: job %s disabled", job.Name)
			continue
		}
		if _, err := c.AddFunc(job.Schedule, s.wrap(job)); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid schedule %q for job %s: %w", job.Schedule, job.Name, err)
		}
		s.jobs = append(s.jobs, job.Name)
		log.Printf("Scheduler: job %s scheduled at %q", job.Name, job.Schedule)
	}
	return s, nil
}

func (s *Scheduler) wrap(job Job) func() {
	return func() {
		start := time.Now()
		log.Printf("Scheduler: running %s", job.Name)
		if err := job.Run(s.ctx); err != nil {
			log.Printf("Scheduler: %s failed after %s: %v", job.Name, time.Since(start).Round(time.Millisecond), err)
			return
		}
		log.Printf("Scheduler: %s finished in %s", job.Name, time.Since(start).Round(time.Millisecond))
	}
}

// Jobs returns the names of the enabled jobs.
func (s *Scheduler) Jobs() []string { return s.jobs }

// Start begins triggering jobs in the background.
func (s *Scheduler) Start() {
	log.Printf("Starting scheduler with %d jobs", len(s.jobs))
	s.cron.Start()
}

// Stop stops triggering jobs, cancels running ones and waits for them until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()

	select {
	case <-done.Done():
		log.Println("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler did not stop in time: %w", ctx.Err())
	}
}
