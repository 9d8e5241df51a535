package worker

import (
	"context"
	"fmt"
	"time"

	"naviai/models"

	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is one schedulable unit of work: a short-lived, stateless invocation
// expected to finish well within its scheduling interval.
type Job func(ctx context.Context) (Summary, error)

// JobRunStore persists per-invocation run records.
type JobRunStore interface {
	CreateJobRun(run *models.JobRun) error
	FinishJobRun(id uint, status, errMsg string, sum Summary, finishedAt time.Time) error
}

// Runner schedules the engine, scheduler and pollers on fixed cadences and
// wraps every invocation with run logging and error capture. The same wrapped
// jobs back the HTTP trigger endpoints, so an external cron can drive them
// instead of (or alongside) the in-process schedule.
type Runner struct {
	cron   *cron.Cron
	jobs   map[string]Job
	runs   JobRunStore
	logger *logrus.Entry
}

func NewRunner(runs JobRunStore, logger *logrus.Entry) *Runner {
	return &Runner{
		cron:   cron.New(),
		jobs:   make(map[string]Job),
		runs:   runs,
		logger: logger,
	}
}

// Register adds a named job on a cron spec (e.g. "@every 1m").
func (r *Runner) Register(name, spec string, job Job) error {
	r.jobs[name] = job
	_, err := r.cron.AddFunc(spec, func() {
		if _, err := r.Invoke(context.Background(), name); err != nil {
			r.logger.WithError(err).WithField("job", name).Error("scheduled job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("registering job %s: %w", name, err)
	}
	return nil
}

// Start begins the cron schedule.
func (r *Runner) Start() {
	r.cron.Start()
	r.logger.WithField("jobs", len(r.jobs)).Info("job runner started")
}

// Stop halts the schedule and waits for running jobs.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("job runner stopped")
}

// Invoke runs one registered job now, recording a JobRun row. Job-level
// errors are captured to Sentry; per-row errors inside the job have already
// been tallied into the summary and do not fail the run.
func (r *Runner) Invoke(ctx context.Context, name string) (Summary, error) {
	job, ok := r.jobs[name]
	if !ok {
		return Summary{}, fmt.Errorf("unknown job %q", name)
	}

	startedAt := time.Now()
	run := models.JobRun{
		JobName:   name,
		Status:    models.JobRunning,
		StartedAt: startedAt,
	}
	if err := r.runs.CreateJobRun(&run); err != nil {
		// A broken run log should not prevent the job itself.
		r.logger.WithError(err).WithField("job", name).Error("failed to create job run record")
	}

	sum, err := job(ctx)
	finishedAt := time.Now()

	status := models.JobSucceeded
	errMsg := ""
	if err != nil {
		status = models.JobFailed
		errMsg = err.Error()
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("job", name)
			scope.SetExtra("summary", sum)
			sentry.CaptureException(err)
		})
	}

	if run.ID != 0 {
		if fErr := r.runs.FinishJobRun(run.ID, status, errMsg, sum, finishedAt); fErr != nil {
			r.logger.WithError(fErr).WithField("job", name).Error("failed to finish job run record")
		}
	}

	r.logger.WithFields(logrus.Fields{
		"job":       name,
		"status":    status,
		"processed": sum.Processed,
		"succeeded": sum.Succeeded,
		"failed":    sum.Failed,
		"skipped":   sum.Skipped,
		"duration":  finishedAt.Sub(startedAt).String(),
	}).Info("job finished")

	return sum, err
}
