// Package status holds the catalog of workflow run statuses accepted by
// `gh run list --status`.
package status

import (
	"errors"
	"fmt"
	"strings"
)

// Token is a normalized run status
type Token string

const (
	Queued         Token = "queued"
	InProgress     Token = "in_progress"
	Requested      Token = "requested"
	Waiting        Token = "waiting"
	Pending        Token = "pending"
	Success        Token = "success"
	Failure        Token = "failure"
	Cancelled      Token = "cancelled"
	Skipped        Token = "skipped"
	Neutral        Token = "neutral"
	Stale          Token = "stale"
	TimedOut       Token = "timed_out"
	ActionRequired Token = "action_required"
	Completed      Token = "completed"
)

var (
	runtimeStatuses    = []Token{Queued, InProgress, Requested, Waiting, Pending}
	conclusionStatuses = []Token{Success, Failure, Cancelled, Skipped, Neutral, Stale, TimedOut, ActionRequired}
	catchAllStatuses   = []Token{Completed}
)

var (
	// ErrEmptyStatus is returned when no status was given
	ErrEmptyStatus = errors.New("no status given")
	// ErrInvalidStatus is wrapped by InvalidStatusError
	ErrInvalidStatus = errors.New("invalid status")
)

// InvalidStatusError names the first rejected token
type InvalidStatusError struct {
	Token string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid status '%s'. Valid statuses are:\n%s", e.Token, Help())
}

func (e *InvalidStatusError) Unwrap() error {
	return ErrInvalidStatus
}

// Runtime returns the statuses of active runs
func Runtime() []Token { return append([]Token(nil), runtimeStatuses...) }

// Conclusion returns the statuses of finished runs
func Conclusion() []Token { return append([]Token(nil), conclusionStatuses...) }

// CatchAll returns the status matching every finished run
func CatchAll() []Token { return append([]Token(nil), catchAllStatuses...) }

// Normalize lower-cases a status and replaces dashes with underscores
func Normalize(s string) Token {
	return Token(strings.ReplaceAll(strings.ToLower(s), "-", "_"))
}

// IsValid reports whether the normalized form of s is in the catalog
func IsValid(s string) bool {
	t := Normalize(s)
	for _, group := range [][]Token{runtimeStatuses, conclusionStatuses, catchAllStatuses} {
		for _, v := range group {
			if v == t {
				return true
			}
		}
	}
	return false
}

// ParseAndValidate parses a comma-separated status list. The result is
// deduplicated and keeps first-occurrence order.
func ParseAndValidate(input string) ([]Token, error) {
	var tokens []Token
	seen := make(map[Token]bool)

	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t := Normalize(part)
		if !IsValid(string(t)) {
			return nil, &InvalidStatusError{Token: part}
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		tokens = append(tokens, t)
	}

	if len(tokens) == 0 {
		return nil, ErrEmptyStatus
	}
	return tokens, nil
}

// Strings converts tokens to plain strings
func Strings(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = string(t)
	}
	return out
}

// Help lists every valid status by group
func Help() string {
	return fmt.Sprintf("Runtime: %s\nConclusion: %s\nCatch-all: %s",
		join(runtimeStatuses), join(conclusionStatuses), join(catchAllStatuses))
}

func join(tokens []Token) string {
	return strings.Join(Strings(tokens), ", ")
}
