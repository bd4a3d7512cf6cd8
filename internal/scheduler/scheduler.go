package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "guardsched/internal/log"
)

// Job is a named unit of background work. A failing job is logged and
// retried on its next tick.
type Job struct {
	Name string
	// Spec is a standard 5-field cron expression.
	Spec string
	Run  func(ctx context.Context) error
	// Timeout bounds a single run. Zero means no bound beyond the
	// scheduler's context.
	Timeout time.Duration
}

// Scheduler runs Jobs on cron schedules in a fixed zone.
type Scheduler struct {
	c    *cron.Cron
	ctx  context.Context
	log  appLog.Logger
	jobs []Job
}

// New creates a scheduler whose jobs run with ctx (cancelled jobs stop
// early) and whose schedules are evaluated in loc.
func New(ctx context.Context, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		c:   cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ctx: ctx,
		log: appLog.With("component", "scheduler"),
	}
}

// Add registers j. It fails on an empty name, a nil Run or a bad spec.
func (s *Scheduler) Add(j Job) error {
	if j.Name == "" || j.Run == nil {
		return errors.New("scheduler: job needs a name and a run func")
	}
	if _, err := s.c.AddFunc(j.Spec, func() { s.run(j) }); err != nil {
		return fmt.Errorf("scheduler: job %q: %w", j.Name, err)
	}
	s.jobs = append(s.jobs, j)
	s.log.Info("job scheduled", "job", j.Name, "spec", j.Spec)
	return nil
}

func (s *Scheduler) run(j Job) {
	if s.ctx.Err() != nil {
		return
	}
	ctx := s.ctx
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	start := time.Now()
	if err := j.Run(ctx); err != nil {
		s.log.Error("job failed", err, "job", j.Name, "elapsed", time.Since(start).String())
		return
	}
	s.log.Debug("job done", "job", j.Name, "elapsed", time.Since(start).String())
}

// RunNow executes the named registered job once, synchronously. It reports
// false when no job has that name.
func (s *Scheduler) RunNow(name string) bool {
	for _, j := range s.jobs {
		if j.Name == name {
			s.run(j)
			return true
		}
	}
	return false
}

func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop halts scheduling and waits for running jobs to return, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; jobs still running")
	}
}

// Job names used by the daemon.
const (
	CredentialCheckJob = "credential-check"
	RefreshJob         = "refresh"
)

// Refresher reloads a store.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RefreshFunc adapts a function to Refresher.
type RefreshFunc func(ctx context.Context) error

func (f RefreshFunc) Refresh(ctx context.Context) error { return f(ctx) }

// CheckCredentials builds the credential check job around check, usually a
// closure over session.CheckCredentials.
func CheckCredentials(spec string, check func(ctx context.Context) error) Job {
	return Job{
		Name:    CredentialCheckJob,
		Spec:    spec,
		Run:     check,
		Timeout: time.Minute,
	}
}

// Refresh builds a job that reloads every target, continuing past failures.
func Refresh(spec string, targets ...Refresher) Job {
	return Job{
		Name: RefreshJob,
		Spec: spec,
		Run: func(ctx context.Context) error {
			var errs []error
			for _, t := range targets {
				if err := t.Refresh(ctx); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
		Timeout: 2 * time.Minute,
	}
}
