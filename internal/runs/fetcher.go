// Package runs collects workflow run ids and deletes them.
package runs

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hochfrequenz/gh-run-purge/internal/domain"
	"github.com/hochfrequenz/gh-run-purge/internal/status"
)

// DefaultBatchSize is the number of ids requested per status
const DefaultBatchSize = 300

// Lister lists run ids for one status, one id per line
type Lister interface {
	ListRuns(ctx context.Context, s status.Token, limit int) ([]byte, error)
}

// Fetcher builds run batches from a Lister
type Fetcher struct {
	lister Lister
	limit  int
}

// NewFetcher creates a Fetcher requesting up to limit ids per status
func NewFetcher(lister Lister, limit int) *Fetcher {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	return &Fetcher{lister: lister, limit: limit}
}

// Limit returns the per-status request size
func (f *Fetcher) Limit() int {
	return f.limit
}

// FetchBatch lists runs for every status and merges the ids, keeping the
// order in which they were first seen. An empty batch means nothing is left.
func (f *Fetcher) FetchBatch(ctx context.Context, statuses []status.Token) (domain.RunBatch, error) {
	var batch domain.RunBatch
	seen := make(map[domain.RunID]bool)

	for _, s := range statuses {
		out, err := f.lister.ListRuns(ctx, s, f.limit)
		if err != nil {
			return nil, fmt.Errorf("list runs with status %s: %w", s, err)
		}
		for _, id := range ParseRunIDs(out) {
			if seen[id] {
				continue
			}
			seen[id] = true
			batch = append(batch, id)
		}
	}

	return batch, nil
}

// ParseRunIDs reads one run id per line. Blank lines and lines that are not
// non-negative integers are skipped.
func ParseRunIDs(output []byte) []domain.RunID {
	var ids []domain.RunID
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		n, err := strconv.ParseUint(line, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, domain.RunID(n))
	}
	return ids
}
