package purge

import (
	"time"

	"github.com/hochfrequenz/gh-run-purge/internal/config"
)

// Options tunes one purge run
type Options struct {
	Statuses        string
	BatchSize       int
	Concurrency     int
	Threshold       int64
	SafetyMargin    time.Duration
	MaxHibernation  time.Duration
	ProbeRetryDelay time.Duration
	ProbeAttempts   int
	NetworkDelay    time.Duration
	FetchRetryDelay time.Duration
	Backoff         time.Duration
	BatchPause      time.Duration
	DeleteTimeout   time.Duration
	DispatchRate    float64
	NoProgressLimit int // consecutive empty-handed batches before ErrNoProgress; 0 never stops
	DryRun          bool
}

// DefaultOptions converts config.Default
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().Purge)
}

// OptionsFromConfig converts the [purge] section
func OptionsFromConfig(c config.PurgeConfig) Options {
	return Options{
		Statuses:        c.Statuses,
		BatchSize:       c.BatchSize,
		Concurrency:     c.Concurrency,
		Threshold:       c.Threshold,
		SafetyMargin:    c.SafetyMargin.Duration,
		MaxHibernation:  c.MaxHibernation.Duration,
		ProbeRetryDelay: c.ProbeRetryDelay.Duration,
		ProbeAttempts:   c.ProbeAttempts,
		NetworkDelay:    c.NetworkDelay.Duration,
		FetchRetryDelay: c.FetchRetryDelay.Duration,
		Backoff:         c.Backoff.Duration,
		BatchPause:      c.BatchPause.Duration,
		DeleteTimeout:   c.DeleteTimeout.Duration,
		DispatchRate:    c.DispatchRate,
		NoProgressLimit: c.NoProgressLimit,
	}
}

// withDefaults fills the values juju/retry and the fetcher cannot run without
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	if o.ProbeAttempts <= 0 {
		o.ProbeAttempts = d.ProbeAttempts
	}
	if o.ProbeRetryDelay <= 0 {
		o.ProbeRetryDelay = d.ProbeRetryDelay
	}
	if o.NetworkDelay <= 0 {
		o.NetworkDelay = d.NetworkDelay
	}
	if o.FetchRetryDelay <= 0 {
		o.FetchRetryDelay = d.FetchRetryDelay
	}
	return o
}
