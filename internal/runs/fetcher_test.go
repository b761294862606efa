package runs

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/hochfrequenz/gh-run-purge/internal/domain"
	"github.com/hochfrequenz/gh-run-purge/internal/status"
)

type fakeLister struct {
	output map[status.Token]string
	errs   map[status.Token]error
	calls  []string
}

func (f *fakeLister) ListRuns(ctx context.Context, s status.Token, limit int) ([]byte, error) {
	f.calls = append(f.calls, fmt.Sprintf("%s/%d", s, limit))
	if err := f.errs[s]; err != nil {
		return nil, err
	}
	return []byte(f.output[s]), nil
}

func TestParseRunIDs(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []domain.RunID
	}{
		{"empty", "", nil},
		{"single", "12345\n", []domain.RunID{12345}},
		{"multiple", "12345\n67890\n11111\n", []domain.RunID{12345, 67890, 11111}},
		{"blank lines", "12345\n\n67890\n\n", []domain.RunID{12345, 67890}},
		{"non numeric", "12345\nabc\n67890\n", []domain.RunID{12345, 67890}},
		{"negative", "12345\n-67890\n11111\n", []domain.RunID{12345, 11111}},
		{"whitespace and crlf", "  12345 \r\n\t67890\r\n", []domain.RunID{12345, 67890}},
		{"noise", "warning: something\n42\n", []domain.RunID{42}},
	}

	for _, tt := range tests {
		got := ParseRunIDs([]byte(tt.output))
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: ParseRunIDs() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestParseRunIDs_LargeBatch(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 300; i++ {
		fmt.Fprintf(&b, "%d\n", i)
	}
	ids := ParseRunIDs([]byte(b.String()))
	if len(ids) != 300 {
		t.Fatalf("got %d ids, want 300", len(ids))
	}
	if ids[0] != 1 || ids[299] != 300 {
		t.Errorf("ids = [%d ... %d], want [1 ... 300]", ids[0], ids[299])
	}
}

func TestFetcher_FetchBatch_Dedup(t *testing.T) {
	lister := &fakeLister{output: map[status.Token]string{
		status.Failure:   "3\n1\n2\n",
		status.Cancelled: "2\n4\n1\n",
	}}
	f := NewFetcher(lister, 0)

	batch, err := f.FetchBatch(context.Background(), []status.Token{status.Failure, status.Cancelled})
	if err != nil {
		t.Fatalf("FetchBatch() error = %v", err)
	}

	want := domain.RunBatch{3, 1, 2, 4}
	if !reflect.DeepEqual(batch, want) {
		t.Errorf("batch = %v, want %v", batch, want)
	}

	wantCalls := []string{"failure/300", "cancelled/300"}
	if !reflect.DeepEqual(lister.calls, wantCalls) {
		t.Errorf("calls = %v, want %v", lister.calls, wantCalls)
	}
}

func TestFetcher_FetchBatch_Empty(t *testing.T) {
	lister := &fakeLister{output: map[status.Token]string{
		status.Completed: "\n\nno runs found\n",
	}}
	f := NewFetcher(lister, 50)

	batch, err := f.FetchBatch(context.Background(), []status.Token{status.Completed})
	if err != nil {
		t.Fatalf("FetchBatch() error = %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("batch = %v, want empty", batch)
	}
	if f.Limit() != 50 {
		t.Errorf("Limit() = %d, want 50", f.Limit())
	}
	if want := []string{"completed/50"}; !reflect.DeepEqual(lister.calls, want) {
		t.Errorf("calls = %v, want %v", lister.calls, want)
	}
}

func TestFetcher_FetchBatch_Error(t *testing.T) {
	boom := errors.New("boom")
	lister := &fakeLister{
		output: map[status.Token]string{status.Success: "1\n"},
		errs:   map[status.Token]error{status.Failure: boom},
	}
	f := NewFetcher(lister, 10)

	_, err := f.FetchBatch(context.Background(), []status.Token{status.Success, status.Failure})
	if !errors.Is(err, boom) {
		t.Fatalf("FetchBatch() error = %v, want wrapped boom", err)
	}
	if !strings.Contains(err.Error(), "failure") {
		t.Errorf("error %q should name the status", err)
	}
}
