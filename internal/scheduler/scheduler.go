package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// JobFunc is a periodic job. It returns how many items it handled.
type JobFunc func(ctx context.Context, now time.Time) (int, error)

// Scheduler runs periodic jobs on cron specs
type Scheduler struct {
	cron   *cron.Cron
	log    *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

// New creates a scheduler evaluating specs in loc
func New(loc *time.Location, log *logrus.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(
			cron.Recover(cron.PrintfLogger(log)),
			cron.SkipIfStillRunning(cron.PrintfLogger(log)),
		),
	)
	return &Scheduler{cron: c, log: log, ctx: ctx, cancel: cancel, now: time.Now}
}

// Register adds a named job
func (s *Scheduler) Register(name, spec string, job JobFunc) error {
	_, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("failed to schedule %s (%q): %w", name, spec, err)
	}
	s.log.Infof("Scheduled job %s: %s", name, spec)
	return nil
}

func (s *Scheduler) run(name string, job JobFunc) {
	start := s.now()
	n, err := job(s.ctx, start)
	entry := s.log.WithFields(logrus.Fields{
		"job":         name,
		"processed":   n,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("Job failed")
		return
	}
	entry.Info("Job finished")
}

// Start runs the scheduler in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs, cancels running ones and waits for them up to ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
