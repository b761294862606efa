package runs

import (
	"context"
	"time"

	"github.com/hochfrequenz/gh-run-purge/internal/domain"
	"github.com/hochfrequenz/gh-run-purge/internal/ratelimit"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// DefaultConcurrency bounds in-flight deletions. GitHub's secondary
	// limit trips reliably above this.
	DefaultConcurrency = 15
	// DefaultDeleteTimeout bounds a single deletion
	DefaultDeleteTimeout = 60 * time.Second
)

// Remover deletes a single run
type Remover interface {
	DeleteRun(ctx context.Context, id domain.RunID) error
}

// Deleter removes batches of runs with bounded concurrency
type Deleter struct {
	remover     Remover
	concurrency int
	timeout     time.Duration
	limiter     *rate.Limiter
}

// DeleterOption configures a Deleter
type DeleterOption func(*Deleter)

// WithTimeout bounds each deletion. Zero disables the bound.
func WithTimeout(d time.Duration) DeleterOption {
	return func(dl *Deleter) { dl.timeout = d }
}

// WithRate paces dispatch to perSecond deletions. Zero means unpaced.
func WithRate(perSecond float64) DeleterOption {
	return func(dl *Deleter) {
		if perSecond <= 0 {
			dl.limiter = nil
			return
		}
		dl.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// NewDeleter creates a Deleter running at most concurrency deletions at once
func NewDeleter(remover Remover, concurrency int, opts ...DeleterOption) *Deleter {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	d := &Deleter{
		remover:     remover,
		concurrency: concurrency,
		timeout:     DefaultDeleteTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Concurrency returns the in-flight bound
func (d *Deleter) Concurrency() int {
	return d.concurrency
}

// DeleteBatch deletes every run in batch and waits for all of them. A failed
// deletion never stops the others.
func (d *Deleter) DeleteBatch(ctx context.Context, batch domain.RunBatch) domain.BatchResult {
	outcomes := make([]domain.DeletionOutcome, len(batch))

	var g errgroup.Group
	g.SetLimit(d.concurrency)

	for i, id := range batch {
		i, id := i, id
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				outcomes[i] = domain.DeletionOutcome{ID: id, Err: err}
				continue
			}
		}
		g.Go(func() error {
			outcomes[i] = domain.DeletionOutcome{ID: id, Err: d.deleteOne(ctx, id)}
			return nil
		})
	}
	_ = g.Wait()

	return Aggregate(outcomes)
}

func (d *Deleter) deleteOne(ctx context.Context, id domain.RunID) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return d.remover.DeleteRun(ctx, id)
}

// Aggregate counts outcomes and flags the batch when any failure was caused
// by the secondary rate limit.
func Aggregate(outcomes []domain.DeletionOutcome) domain.BatchResult {
	var r domain.BatchResult
	for _, o := range outcomes {
		if o.Deleted() {
			r.Deleted++
			continue
		}
		r.Failed++
		r.Failures = append(r.Failures, o)
		if ratelimit.IsSecondaryLimit(o.Reason()) {
			r.SecondaryLimitHit = true
		}
	}
	return r
}
