// Package schedule repeats purge runs on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Job is one scheduled unit of work. ctx is cancelled when the runner stops.
type Job func(ctx context.Context) error

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a five-field cron expression or a descriptor such as @daily
func ParseCron(expr string) (cron.Schedule, error) {
	return parser.Parse(expr)
}

// Runner fires a Job at every tick of a cron schedule. A tick that arrives
// while the previous run is still going is skipped.
type Runner struct {
	schedule cron.Schedule
	job      Job
	logger   *log.Entry
	busy     atomic.Bool
	runs     atomic.Int64
	ctx      context.Context
}

// NewRunner creates a Runner for expr
func NewRunner(expr string, job Job, logger *log.Entry) (*Runner, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Runner{
		schedule: sched,
		job:      job,
		logger:   logger.WithField("schedule", expr),
		ctx:      context.Background(),
	}, nil
}

// Next returns the first tick after t
func (r *Runner) Next(t time.Time) time.Time {
	return r.schedule.Next(t)
}

// Runs returns how many jobs have been started
func (r *Runner) Runs() int64 {
	return r.runs.Load()
}

// Run blocks until ctx is cancelled, then waits for a running job to return
func (r *Runner) Run(ctx context.Context) error {
	r.ctx = ctx
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cron.PrintfLogger(r.logger))),
	)
	c.Schedule(r.schedule, cron.FuncJob(r.fire))
	c.Start()
	r.logger.Infof("Scheduler started, next purge at %s", r.Next(time.Now()).Format(time.RFC1123))

	<-ctx.Done()
	r.logger.Info("Scheduler stopping")
	<-c.Stop().Done()
	return ctx.Err()
}

func (r *Runner) fire() {
	if !r.busy.CompareAndSwap(false, true) {
		r.logger.Warn("Previous purge still running, skipping this tick")
		return
	}
	defer r.busy.Store(false)

	r.runs.Add(1)
	if err := r.job(r.ctx); err != nil {
		r.logger.WithError(err).Error("Scheduled purge failed")
	}
	r.logger.Infof("Next purge at %s", r.Next(time.Now()).Format(time.RFC1123))
}
