// Package ratelimit reads the primary API quota, decides when to hibernate
// and recognizes secondary (burst) rate limit failures.
package ratelimit

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/hochfrequenz/gh-run-purge/internal/domain"
	"github.com/tidwall/gjson"
)

// ErrMalformedQuotaResponse is returned when the quota payload cannot be used
var ErrMalformedQuotaResponse = errors.New("malformed quota response")

// Range of epoch seconds that time.Unix can represent without wrapping.
const (
	unixToInternal = (1969*365 + 1969/4 - 1969/100 + 1969/400) * 24 * 60 * 60
	maxUnixSeconds = math.MaxInt64 - unixToInternal
	minUnixSeconds = math.MinInt64 + unixToInternal
)

// ParseQuota parses the output of `gh api rate_limit --jq .resources.core`.
// The unfiltered /rate_limit document is accepted as well.
func ParseQuota(raw []byte) (domain.QuotaSnapshot, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return domain.QuotaSnapshot{}, fmt.Errorf("%w: not valid JSON", ErrMalformedQuotaResponse)
	}

	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return domain.QuotaSnapshot{}, fmt.Errorf("%w: expected a JSON object", ErrMalformedQuotaResponse)
	}
	if core := root.Get("resources.core"); core.IsObject() {
		root = core
	}

	remaining, err := intField(root, "remaining")
	if err != nil {
		return domain.QuotaSnapshot{}, err
	}
	reset, err := intField(root, "reset")
	if err != nil {
		return domain.QuotaSnapshot{}, err
	}

	return domain.QuotaSnapshot{
		Remaining: remaining,
		ResetAt:   unixTime(reset),
	}, nil
}

func intField(obj gjson.Result, name string) (int64, error) {
	v := obj.Get(name)
	if !v.Exists() {
		return 0, fmt.Errorf("%w: missing field %q", ErrMalformedQuotaResponse, name)
	}
	if v.Type != gjson.Number {
		return 0, fmt.Errorf("%w: field %q is not a number", ErrMalformedQuotaResponse, name)
	}
	if i, err := strconv.ParseInt(v.Raw, 10, 64); err == nil {
		return i, nil
	}
	// fractional, exponent or out of int64 range
	f := v.Float()
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64, nil
	case f <= math.MinInt64:
		return math.MinInt64, nil
	}
	return int64(f), nil
}

func unixTime(sec int64) time.Time {
	if sec > maxUnixSeconds {
		sec = maxUnixSeconds
	}
	if sec < minUnixSeconds {
		sec = minUnixSeconds
	}
	return time.Unix(sec, 0)
}
