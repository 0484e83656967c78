// Package scheduler drives the periodic jobs: the daily signal scan, the
// intraday position monitor, broker reconciliation and nightly maintenance.
// Jobs run on cron expressions evaluated in UTC, and a slow job skips its
// next tick instead of piling up.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/config"
)

// Job is one schedulable unit of work. The context carries the per-run
// timeout; jobs must respect cancellation.
type Job func(ctx context.Context) error

// Jobs names the work the scheduler drives.
type Jobs struct {
	Scan        Job
	Monitor     Job
	Reconcile   Job
	Maintenance Job
}

// jobTimeout bounds a single run of any scheduled job.
const jobTimeout = 10 * time.Minute

// Scheduler owns the cron runner.
type Scheduler struct {
	cron *cron.Cron
	cfg  config.ScheduleConfig
	log  zerolog.Logger
}

// New builds a scheduler with the configured cron expressions. Nil jobs are
// not registered.
func New(cfg config.ScheduleConfig, jobs Jobs, log zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cfg: cfg,
		log: log.With().Str("service", "scheduler").Logger(),
	}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.log})),
	)

	for _, reg := range []struct {
		name string
		spec string
		job  Job
	}{
		{"scan", cfg.ScanSpec, jobs.Scan},
		{"monitor", cfg.MonitorSpec, jobs.Monitor},
		{"reconcile", cfg.ReconcileSpec, jobs.Reconcile},
		{"maintenance", cfg.MaintenanceSpec, jobs.Maintenance},
	} {
		if reg.job == nil {
			continue
		}
		if _, err := s.cron.AddFunc(reg.spec, s.wrap(reg.name, reg.job)); err != nil {
			return nil, fmt.Errorf("invalid cron spec for %s job (%q): %w", reg.name, reg.spec, err)
		}
		s.log.Info().Str("job", reg.name).Str("spec", reg.spec).Msg("Job scheduled")
	}
	return s, nil
}

// wrap adds the per-run timeout, duration logging and panic containment. A
// panicking job must not take the scheduler down with it.
func (s *Scheduler) wrap(name string, job Job) func() {
	log := s.log.With().Str("job", name).Logger()
	return func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Scheduled job panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		started := time.Now()
		if err := job(ctx); err != nil {
			log.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("Scheduled job failed")
			return
		}
		log.Debug().Dur("elapsed", time.Since(started)).Msg("Scheduled job completed")
	}
}

// Start begins running jobs at their scheduled times.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// cronLogger adapts zerolog to the cron logger interface.
type cronLogger struct {
	log zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug().Interface("kv", keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error().Err(err).Interface("kv", keysAndValues).Msg(msg)
}
