// Package purge drives the quota aware deletion loop.
package purge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/retry"
	log "github.com/sirupsen/logrus"

	"github.com/hochfrequenz/gh-run-purge/internal/domain"
	"github.com/hochfrequenz/gh-run-purge/internal/ratelimit"
	"github.com/hochfrequenz/gh-run-purge/internal/runs"
	"github.com/hochfrequenz/gh-run-purge/internal/status"
)

// ErrNoProgress is returned when consecutive batches delete nothing, which
// happens when every remaining run is in a state that cannot be deleted.
var ErrNoProgress = errors.New("no runs could be deleted")

// Executor is the boundary to the hosting service
type Executor interface {
	QueryQuota(ctx context.Context) ([]byte, error)
	runs.Lister
	runs.Remover
}

// Orchestrator runs the purge state machine
type Orchestrator struct {
	exec    Executor
	opts    Options
	clock   clock.Clock
	logger  *log.Entry
	session string
	observe func(State)
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock replaces the wall clock
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger replaces the standard logrus logger
func WithLogger(l *log.Entry) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithSession sets the id attached to log entries and the summary
func WithSession(id string) Option {
	return func(o *Orchestrator) { o.session = id }
}

// WithObserver registers a callback invoked on every state transition
func WithObserver(fn func(State)) Option {
	return func(o *Orchestrator) { o.observe = fn }
}

// New creates an Orchestrator
func New(exec Executor, opts Options, options ...Option) *Orchestrator {
	o := &Orchestrator{
		exec:    exec,
		opts:    opts.withDefaults(),
		clock:   clock.WallClock,
		session: uuid.NewString(),
	}
	for _, opt := range options {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.NewEntry(log.StandardLogger())
	}
	o.logger = o.logger.WithField("session", shortID(o.session))
	return o
}

// Session returns the id of this orchestrator
func (o *Orchestrator) Session() string {
	return o.session
}

// Run purges runs until none match the configured statuses. The summary is
// returned even when Run fails.
func (o *Orchestrator) Run(ctx context.Context) (domain.Summary, error) {
	sum := domain.Summary{
		Session:   o.session,
		DryRun:    o.opts.DryRun,
		StartedAt: o.clock.Now(),
	}
	defer func() {
		sum.FinishedAt = o.clock.Now()
		sum.Elapsed = domain.Duration{Duration: sum.FinishedAt.Sub(sum.StartedAt)}
	}()

	o.transition(StateInit)
	statuses, err := status.ParseAndValidate(o.opts.Statuses)
	if err != nil {
		return sum, err
	}
	sum.Statuses = status.Strings(statuses)
	o.logger.Infof("Filtering by status: %s", strings.Join(sum.Statuses, ", "))

	fetcher := runs.NewFetcher(o.exec, o.opts.BatchSize)
	deleter := runs.NewDeleter(o.exec, o.opts.Concurrency,
		runs.WithTimeout(o.opts.DeleteTimeout),
		runs.WithRate(o.opts.DispatchRate),
	)

	var (
		plan  ratelimit.Hibernation
		batch domain.RunBatch
		idle  int
	)
	state := StateCheckingQuota

	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		o.transition(state)

		switch state {
		case StateCheckingQuota:
			snap, err := o.checkQuota(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return sum, ctx.Err()
				}
				if errors.Is(err, ratelimit.ErrMalformedQuotaResponse) {
					return sum, err
				}
				o.logger.WithError(err).Warnf("Cannot reach GitHub API, retrying in %s", o.opts.NetworkDelay)
				if err := o.sleep(ctx, o.opts.NetworkDelay); err != nil {
					return sum, err
				}
				continue
			}
			plan = ratelimit.Plan(snap, o.clock.Now(), o.opts.Threshold, o.opts.SafetyMargin, o.opts.MaxHibernation)
			if plan.Needed {
				state = StateHibernating
				continue
			}
			o.logger.Infof("Quota healthy (%s left), fetching runs", humanize.Comma(snap.Remaining))
			state = StateFetching

		case StateHibernating:
			sum.Hibernations++
			o.logger.Warnf("API quota exhausted (%s left), hibernating for %s until reset",
				humanize.Comma(plan.Remaining), relative(plan.Wait))
			if err := o.sleep(ctx, plan.Wait); err != nil {
				return sum, err
			}
			state = StateCheckingQuota

		case StateFetching:
			batch, err = fetcher.FetchBatch(ctx, statuses)
			if err != nil {
				if ctx.Err() != nil {
					return sum, ctx.Err()
				}
				o.logger.WithError(err).Warnf("Error fetching runs, retrying in %s", o.opts.FetchRetryDelay)
				if err := o.sleep(ctx, o.opts.FetchRetryDelay); err != nil {
					return sum, err
				}
				state = StateCheckingQuota
				continue
			}
			if len(batch) == 0 {
				o.logger.Infof("No more runs found with status: %s", strings.Join(sum.Statuses, ", "))
				state = StateDone
				continue
			}
			if o.opts.DryRun {
				o.logger.Infof("Dry run: %s runs would be deleted", humanize.Comma(int64(len(batch))))
				sum.Pending = batch
				state = StateDone
				continue
			}
			state = StateDeleting

		case StateDeleting:
			o.logger.Infof("Deleting %s runs, %d at a time", humanize.Comma(int64(len(batch))), deleter.Concurrency())
			res := deleter.DeleteBatch(ctx, batch)
			batch = nil
			sum.Add(res)
			for _, f := range res.Failures {
				o.logger.WithField("run", f.ID).Debugf("Delete failed: %s", f.Reason())
			}
			o.logger.Infof("Batch done: %d deleted, %d failed (total %s deleted)",
				res.Deleted, res.Failed, humanize.Comma(int64(sum.Deleted)))

			if res.SecondaryLimitHit {
				state = StateBackoff
				continue
			}
			if res.Deleted == 0 {
				idle++
				if o.opts.NoProgressLimit > 0 && idle >= o.opts.NoProgressLimit {
					return sum, fmt.Errorf("%w: %d consecutive batches failed", ErrNoProgress, idle)
				}
			} else {
				idle = 0
			}
			if err := o.sleep(ctx, o.opts.BatchPause); err != nil {
				return sum, err
			}
			state = StateCheckingQuota

		case StateBackoff:
			sum.Backoffs++
			o.logger.Warnf("Secondary rate limit hit, cooling down for %s", o.opts.Backoff)
			if err := o.sleep(ctx, o.opts.Backoff); err != nil {
				return sum, err
			}
			state = StateCheckingQuota

		case StateDone:
			o.logger.Infof("Purge finished: %s deleted, %s failed in %d batches",
				humanize.Comma(int64(sum.Deleted)), humanize.Comma(int64(sum.Failed)), sum.Batches)
			return sum, nil
		}
	}
}

// checkQuota probes the quota. Malformed payloads are retried up to
// ProbeAttempts times; any executor error is returned at once.
func (o *Orchestrator) checkQuota(ctx context.Context) (domain.QuotaSnapshot, error) {
	var (
		snap    domain.QuotaSnapshot
		lastErr error
	)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			raw, err := o.exec.QueryQuota(ctx)
			if err == nil {
				snap, err = ratelimit.ParseQuota(raw)
			}
			lastErr = err
			return err
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, ratelimit.ErrMalformedQuotaResponse)
		},
		NotifyFunc: func(err error, attempt int) {
			o.logger.WithError(err).Warnf("Quota check attempt %d/%d failed", attempt, o.opts.ProbeAttempts)
		},
		Attempts: o.opts.ProbeAttempts,
		Delay:    o.opts.ProbeRetryDelay,
		Clock:    o.clock,
		Stop:     ctx.Done(),
	})
	if err == nil {
		return snap, nil
	}
	if ctx.Err() != nil {
		return snap, ctx.Err()
	}
	if lastErr == nil {
		return snap, err
	}
	if errors.Is(lastErr, ratelimit.ErrMalformedQuotaResponse) {
		return snap, fmt.Errorf("quota check failed after %d attempts: %w", o.opts.ProbeAttempts, lastErr)
	}
	return snap, lastErr
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.clock.After(d):
		return nil
	}
}

func (o *Orchestrator) transition(s State) {
	o.logger.Debugf("state: %s", s)
	if o.observe != nil {
		o.observe(s)
	}
}

func relative(d time.Duration) string {
	now := time.Now()
	return strings.TrimSpace(humanize.RelTime(now, now.Add(d), "", ""))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
