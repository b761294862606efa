// Package notify tells operators when a purge run ends.
package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/gh-run-purge/internal/domain"
	"github.com/hochfrequenz/gh-run-purge/internal/purge"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	Repo    string // Optional owner/name
	Session string // Optional purge session id
	Fields  []Field
	Time    time.Time
}

// Field is one labelled figure of a purge result
type Field struct {
	Name  string
	Value string
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers and joins their errors
func (m *MultiNotifier) Send(n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// FromSummary describes the outcome of a purge run. runErr is the error
// returned by the orchestrator, if any.
func FromSummary(sum domain.Summary, runErr error, repo string) Notification {
	n := Notification{
		Repo:    repo,
		Session: sum.Session,
		Fields:  summaryFields(sum),
		Time:    sum.FinishedAt,
	}
	target := "workflow runs"
	if repo != "" {
		target = repo + " workflow runs"
	}

	counts := fmt.Sprintf("%s deleted, %s failed in %d batches (%s)",
		humanize.Comma(int64(sum.Deleted)), humanize.Comma(int64(sum.Failed)),
		sum.Batches, strings.Join(sum.Statuses, ", "))

	switch {
	case errors.Is(runErr, purge.ErrNoProgress):
		n.Type = NotifyWarning
		n.Title = "Purge stalled: " + target
		n.Message = counts + ". Remaining runs could not be deleted."
	case runErr != nil:
		n.Type = NotifyError
		n.Title = "Purge failed: " + target
		n.Message = fmt.Sprintf("%s. Error: %v", counts, runErr)
	case sum.DryRun:
		n.Type = NotifyInfo
		n.Title = "Purge dry run: " + target
		n.Message = fmt.Sprintf("%s runs would be deleted", humanize.Comma(int64(len(sum.Pending))))
	case sum.Failed > 0:
		n.Type = NotifyWarning
		n.Title = "Purge finished with failures: " + target
		n.Message = counts
	default:
		n.Type = NotifySuccess
		n.Title = "Purge finished: " + target
		n.Message = counts
	}
	return n
}

func summaryFields(sum domain.Summary) []Field {
	fields := []Field{{Name: "Statuses", Value: strings.Join(sum.Statuses, ", ")}}
	if sum.DryRun {
		fields = append(fields, Field{Name: "Would delete", Value: humanize.Comma(int64(len(sum.Pending)))})
	} else {
		fields = append(fields, Field{Name: "Deleted", Value: humanize.Comma(int64(sum.Deleted))})
	}
	return append(fields,
		Field{Name: "Failed", Value: humanize.Comma(int64(sum.Failed))},
		Field{Name: "Batches", Value: humanize.Comma(int64(sum.Batches))},
		Field{Name: "Hibernations", Value: fmt.Sprint(sum.Hibernations)},
		Field{Name: "Backoffs", Value: fmt.Sprint(sum.Backoffs)},
		Field{Name: "Elapsed", Value: sum.Elapsed.Round(time.Second).String()},
	)
}
