// Package scheduler runs the nightly feed sync and scoring jobs on cron
// schedules.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Job is one scheduled task. A job still running when its next tick fires
// is skipped for that tick.
type Job func(ctx context.Context) error

// Scheduler wraps a cron runner whose jobs share one context.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger

	mu   sync.Mutex
	jobs map[string]Job
}

// New creates a scheduler using standard five-field cron specs.
func New() *Scheduler {
	log := zap.L().With(zap.String("component", "scheduler"))
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{log}),
			cron.SkipIfStillRunning(cronLogger{log}),
		)),
		log:  log,
		jobs: make(map[string]Job),
	}
}

// Register schedules job under name. ctx is passed to every invocation.
func (s *Scheduler) Register(ctx context.Context, name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return eris.Errorf("scheduler: job %q already registered", name)
	}
	if _, err := s.cron.AddFunc(spec, func() { s.invoke(ctx, name, job) }); err != nil {
		return eris.Wrapf(err, "scheduler: register %s (%q)", name, spec)
	}
	s.jobs[name] = job
	s.log.Info("job registered", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// RunNow runs a registered job immediately in the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return eris.Errorf("scheduler: unknown job %q", name)
	}
	return s.invoke(ctx, name, job)
}

// Start runs the cron loop in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with jobs still running")
	}
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) invoke(ctx context.Context, name string, job Job) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	log := s.log.With(zap.String("job", name))
	log.Info("job starting")
	start := time.Now()
	if err := job(ctx); err != nil {
		log.Error("job failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return err
	}
	log.Info("job complete", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Sugar().Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
