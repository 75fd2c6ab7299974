// Package scheduler runs the placement housekeeping jobs in-process when
// CRON_ENABLED is set. External cron can call the same jobs over HTTP or
// with placementctl instead.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"jobmate/placement-service/internal/placement"
)

// Runner runs one named job.
type Runner interface {
	RunJob(ctx context.Context, name string) (placement.JobResult, error)
}

// Entry binds a job name to a cron spec.
type Entry struct {
	Job  string
	Spec string
}

// DefaultEntries is the production timetable, in the service's time zone.
var DefaultEntries = []Entry{
	{Job: placement.JobAutoJump, Spec: "*/10 * * * *"},
	{Job: placement.JobExpireAds, Spec: "*/10 * * * *"},
	{Job: placement.JobCancelDeposits, Spec: "*/10 * * * *"},
	{Job: placement.JobResetDailyJumps, Spec: "0 0 * * *"},
	{Job: placement.JobExpiryNotices, Spec: "0 9 * * *"},
}

// Scheduler wraps robfig/cron. A job whose previous run is still going is
// skipped rather than stacked.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	entries []Entry
	log     *zap.Logger
	timeout time.Duration
}

// New creates a Scheduler evaluating specs in loc.
func New(runner Runner, entries []Entry, loc *time.Location, log *zap.Logger) *Scheduler {
	cl := cron.PrintfLogger(zap.NewStdLog(log.Named("cron")))
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner:  runner,
		entries: entries,
		log:     log,
		timeout: 5 * time.Minute,
	}
}

// Start registers every entry and starts the scheduler. Jobs run with ctx,
// each bounded by the scheduler timeout.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, e := range s.entries {
		job := e.Job
		if _, err := s.cron.AddFunc(e.Spec, func() { s.run(ctx, job) }); err != nil {
			return fmt.Errorf("cron.AddFunc %s (%s): %w", job, e.Spec, err)
		}
	}
	s.cron.Start()
	s.log.Info("cron started", zap.Int("entries", len(s.entries)))
	return nil
}

// Stop stops the scheduler and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("cron stopped")
}

func (s *Scheduler) run(ctx context.Context, job string) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	// the job logs its own summary
	_, _ = s.runner.RunJob(ctx, job)
}
