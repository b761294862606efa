package ratelimit

import (
	"math"
	"time"

	"github.com/hochfrequenz/gh-run-purge/internal/domain"
)

const (
	// DefaultThreshold is the remaining quota at or below which we hibernate
	DefaultThreshold = 50
	// DefaultMargin is added to every hibernation to absorb clock skew
	DefaultMargin = 10 * time.Second
	// DefaultCeiling bounds a single hibernation. Quota windows reset
	// hourly, a longer wait means the reset instant is garbage.
	DefaultCeiling = 2 * time.Hour

	maxDuration = time.Duration(math.MaxInt64)
)

// Hibernation is the decision taken for one quota snapshot
type Hibernation struct {
	Needed    bool
	Wait      time.Duration
	Remaining int64
	ResetAt   time.Time
}

// ShouldHibernate reports whether remaining quota is at or below threshold.
// Negative values count as exhausted.
func ShouldHibernate(remaining, threshold int64) bool {
	return remaining <= threshold
}

// WaitSeconds returns the whole seconds from now until resetAt. It is zero
// when the reset already happened and saturates instead of overflowing.
func WaitSeconds(resetAt, now time.Time) int64 {
	r, n := resetAt.Unix(), now.Unix()
	if r <= n {
		return 0
	}
	if n < 0 && r > math.MaxInt64+n {
		return math.MaxInt64
	}
	return r - n
}

// Plan turns a snapshot into a hibernation decision. Wait includes margin
// and is clamped to ceiling when ceiling > 0.
func Plan(snap domain.QuotaSnapshot, now time.Time, threshold int64, margin, ceiling time.Duration) Hibernation {
	h := Hibernation{
		Remaining: snap.Remaining,
		ResetAt:   snap.ResetAt,
	}
	if !ShouldHibernate(snap.Remaining, threshold) {
		return h
	}
	h.Needed = true

	wait := secondsToDuration(WaitSeconds(snap.ResetAt, now))
	if margin > 0 {
		if wait > maxDuration-margin {
			wait = maxDuration
		} else {
			wait += margin
		}
	}
	if ceiling > 0 && wait > ceiling {
		wait = ceiling
	}
	h.Wait = wait
	return h
}

func secondsToDuration(secs int64) time.Duration {
	if secs > int64(maxDuration/time.Second) {
		return maxDuration
	}
	return time.Duration(secs) * time.Second
}
