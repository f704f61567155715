/**
 * @description
 * Scheduled job implementations and cron wiring. The only recurring job is the
 * task deadline sweep: any task still open, claimed, or submitted past its
 * deadline is cancelled in a single idempotent batch update. Re-running the
 * sweep is always safe.
 */

package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	service *Service
	logger  *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(service *Service, logger *slog.Logger) *Jobs {
	return &Jobs{
		service: service,
		logger:  logger,
	}
}

// SweepExpiredTasks cancels every unfinished task whose deadline has passed.
func (j *Jobs) SweepExpiredTasks() {
	j.logger.Info("starting task expiry sweep")
	ctx := context.Background()

	expired, err := j.service.ExpireOverdueTasks(ctx)
	if err != nil {
		j.logger.Error("task expiry sweep failed", "error", err)
		return
	}

	if expired == 0 {
		j.logger.Info("no overdue tasks to expire")
		return
	}
	j.logger.Info("task expiry sweep finished", "expired", expired)
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	jobs     *Jobs
	logger   *slog.Logger
	schedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, taskExpirySchedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:     c,
		jobs:     jobs,
		logger:   logger,
		schedule: taskExpirySchedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.schedule, s.jobs.SweepExpiredTasks); err != nil {
		s.logger.Error("failed to schedule task expiry sweep", "error", err)
	} else {
		s.logger.Info("scheduled task expiry sweep", "schedule", s.schedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
