package purge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock"
	log "github.com/sirupsen/logrus"

	"github.com/hochfrequenz/gh-run-purge/internal/domain"
	"github.com/hochfrequenz/gh-run-purge/internal/ratelimit"
	"github.com/hochfrequenz/gh-run-purge/internal/status"
)

// fakeClock advances instantly whenever something waits on it
type fakeClock struct {
	clock.Clock
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type quotaReply struct {
	body string
	err  error
}

// fakeExecutor replays scripted replies. List pages advance per status and
// the last quota and list replies repeat once the script runs out.
type fakeExecutor struct {
	mu         sync.Mutex
	quota      []quotaReply
	lists      []map[status.Token]string
	listErrs   []error
	deleteErr  func(id domain.RunID) error
	quotaCalls int
	listCalls  int
	rounds     map[status.Token]int
	deleted    []domain.RunID
	deleteSeen int
}

func (f *fakeExecutor) QueryQuota(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := min(f.quotaCalls, len(f.quota)-1)
	f.quotaCalls++
	r := f.quota[i]
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.body), nil
}

func (f *fakeExecutor) ListRuns(ctx context.Context, s status.Token, limit int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.listCalls
	f.listCalls++
	if call < len(f.listErrs) && f.listErrs[call] != nil {
		return nil, f.listErrs[call]
	}
	if len(f.lists) == 0 {
		return nil, nil
	}
	if f.rounds == nil {
		f.rounds = make(map[status.Token]int)
	}
	round := f.rounds[s]
	f.rounds[s]++
	page := f.lists[min(round, len(f.lists)-1)]
	return []byte(page[s]), nil
}

func (f *fakeExecutor) DeleteRun(ctx context.Context, id domain.RunID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteSeen++
	if f.deleteErr != nil {
		if err := f.deleteErr(id); err != nil {
			return err
		}
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func quotaJSON(remaining int64, reset time.Time) quotaReply {
	return quotaReply{body: fmt.Sprintf(`{"remaining":%d,"reset":%d}`, remaining, reset.Unix())}
}

func idLines(from, to int) string {
	var b strings.Builder
	for i := from; i <= to; i++ {
		fmt.Fprintf(&b, "%d\n", i)
	}
	return b.String()
}

func quietLogger() *log.Entry {
	l := log.New()
	l.SetOutput(io.Discard)
	return log.NewEntry(l)
}

type harness struct {
	clock  *fakeClock
	exec   *fakeExecutor
	states []State
}

func newHarness() *harness {
	c := newFakeClock()
	return &harness{clock: c, exec: &fakeExecutor{}}
}

func (h *harness) orchestrator(opts Options) *Orchestrator {
	return New(h.exec, opts,
		WithClock(h.clock),
		WithLogger(quietLogger()),
		WithSession("test-session"),
		WithObserver(func(s State) { h.states = append(h.states, s) }),
	)
}

func TestRun_EndToEnd(t *testing.T) {
	h := newHarness()
	now := h.clock.Now()
	h.exec.quota = []quotaReply{
		quotaJSON(5, now.Add(100*time.Second)),
		quotaJSON(1000, now.Add(time.Hour)),
	}
	h.exec.lists = []map[status.Token]string{
		{status.Completed: idLines(1, 300)},
		{status.Completed: ""},
	}

	sum, err := h.orchestrator(DefaultOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if sum.Deleted != 300 {
		t.Errorf("Deleted = %d, want 300", sum.Deleted)
	}
	if sum.Failed != 0 {
		t.Errorf("Failed = %d, want 0", sum.Failed)
	}
	if sum.Hibernations != 1 {
		t.Errorf("Hibernations = %d, want 1", sum.Hibernations)
	}
	if sum.Batches != 1 {
		t.Errorf("Batches = %d, want 1", sum.Batches)
	}
	if sum.Session != "test-session" {
		t.Errorf("Session = %q", sum.Session)
	}
	if !reflect.DeepEqual(sum.Statuses, []string{"completed"}) {
		t.Errorf("Statuses = %v", sum.Statuses)
	}

	wantStates := []State{
		StateInit,
		StateCheckingQuota, StateHibernating,
		StateCheckingQuota, StateFetching, StateDeleting,
		StateCheckingQuota, StateFetching, StateDone,
	}
	if !reflect.DeepEqual(h.states, wantStates) {
		t.Errorf("states = %v, want %v", h.states, wantStates)
	}

	// 100s until reset plus the 10s margin, then the pause between batches
	wantSleeps := []time.Duration{110 * time.Second, 2 * time.Second}
	if got := h.clock.Sleeps(); !reflect.DeepEqual(got, wantSleeps) {
		t.Errorf("sleeps = %v, want %v", got, wantSleeps)
	}
	if sum.Elapsed.Duration != 112*time.Second {
		t.Errorf("Elapsed = %v, want 1m52s", sum.Elapsed)
	}
}

func TestRun_EmptyBatchIsDone(t *testing.T) {
	h := newHarness()
	h.exec.quota = []quotaReply{quotaJSON(4000, h.clock.Now().Add(time.Hour))}
	h.exec.lists = []map[status.Token]string{{status.Completed: "\n\n"}}

	sum, err := h.orchestrator(DefaultOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.exec.deleteSeen != 0 {
		t.Errorf("deleter was invoked %d times, want 0", h.exec.deleteSeen)
	}
	if sum.Batches != 0 {
		t.Errorf("Batches = %d, want 0", sum.Batches)
	}
	if last := h.states[len(h.states)-1]; last != StateDone {
		t.Errorf("final state = %v, want done", last)
	}
}

func TestRun_InvalidStatus(t *testing.T) {
	h := newHarness()
	opts := DefaultOptions()
	opts.Statuses = "success,bogus"

	_, err := h.orchestrator(opts).Run(context.Background())
	if !errors.Is(err, status.ErrInvalidStatus) {
		t.Fatalf("Run() error = %v, want ErrInvalidStatus", err)
	}
	if h.exec.quotaCalls != 0 || h.exec.listCalls != 0 {
		t.Errorf("executor was called (quota=%d list=%d), want no calls", h.exec.quotaCalls, h.exec.listCalls)
	}
}

func TestRun_MultipleStatusesDedup(t *testing.T) {
	h := newHarness()
	h.exec.quota = []quotaReply{quotaJSON(4000, h.clock.Now().Add(time.Hour))}
	h.exec.lists = []map[status.Token]string{
		{status.Failure: "1\n2\n", status.Cancelled: "2\n3\n"},
		{},
	}
	opts := DefaultOptions()
	opts.Statuses = "failure, cancelled"

	sum, err := h.orchestrator(opts).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Deleted != 3 {
		t.Errorf("Deleted = %d, want 3", sum.Deleted)
	}
	if h.exec.deleteSeen != 3 {
		t.Errorf("deletions attempted = %d, want 3", h.exec.deleteSeen)
	}
}

func TestRun_SecondaryLimitBacksOff(t *testing.T) {
	h := newHarness()
	h.exec.quota = []quotaReply{quotaJSON(4000, h.clock.Now().Add(time.Hour))}
	h.exec.lists = []map[status.Token]string{
		{status.Completed: idLines(1, 10)},
		{status.Completed: ""},
	}
	h.exec.deleteErr = func(id domain.RunID) error {
		if id == 7 {
			return errors.New("gh run delete 7: HTTP 403: You have exceeded a secondary rate limit")
		}
		return nil
	}

	sum, err := h.orchestrator(DefaultOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Backoffs != 1 {
		t.Errorf("Backoffs = %d, want 1", sum.Backoffs)
	}
	if sum.Deleted != 9 || sum.Failed != 1 {
		t.Errorf("Deleted/Failed = %d/%d, want 9/1", sum.Deleted, sum.Failed)
	}
	wantSleeps := []time.Duration{60 * time.Second}
	if got := h.clock.Sleeps(); !reflect.DeepEqual(got, wantSleeps) {
		t.Errorf("sleeps = %v, want %v", got, wantSleeps)
	}
	wantStates := []State{
		StateInit, StateCheckingQuota, StateFetching, StateDeleting, StateBackoff,
		StateCheckingQuota, StateFetching, StateDone,
	}
	if !reflect.DeepEqual(h.states, wantStates) {
		t.Errorf("states = %v, want %v", h.states, wantStates)
	}
}

func TestRun_MalformedQuotaIsFatalAfterRetries(t *testing.T) {
	h := newHarness()
	h.exec.quota = []quotaReply{{body: "<html>unicorn</html>"}}
	opts := DefaultOptions()
	opts.ProbeAttempts = 3

	_, err := h.orchestrator(opts).Run(context.Background())
	if !errors.Is(err, ratelimit.ErrMalformedQuotaResponse) {
		t.Fatalf("Run() error = %v, want ErrMalformedQuotaResponse", err)
	}
	if h.exec.quotaCalls != 3 {
		t.Errorf("quota calls = %d, want 3", h.exec.quotaCalls)
	}
	for _, d := range h.clock.Sleeps() {
		if d != 5*time.Second {
			t.Errorf("retry delay = %v, want 5s", d)
		}
	}
	if h.exec.listCalls != 0 {
		t.Error("runs must not be fetched without a quota reading")
	}
}

func TestRun_MalformedQuotaRecovers(t *testing.T) {
	h := newHarness()
	h.exec.quota = []quotaReply{
		{body: `{"remaining":1}`},
		quotaJSON(4000, h.clock.Now().Add(time.Hour)),
	}

	_, err := h.orchestrator(DefaultOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := h.clock.Sleeps(); !reflect.DeepEqual(got, []time.Duration{5 * time.Second}) {
		t.Errorf("sleeps = %v, want [5s]", got)
	}
}

func TestRun_NetworkErrorsRetry(t *testing.T) {
	h := newHarness()
	offline := errors.New("dial tcp: lookup api.github.com: no such host")
	h.exec.quota = []quotaReply{
		{err: offline},
		{err: offline},
		quotaJSON(4000, h.clock.Now().Add(time.Hour)),
	}

	_, err := h.orchestrator(DefaultOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []time.Duration{30 * time.Second, 30 * time.Second}
	if got := h.clock.Sleeps(); !reflect.DeepEqual(got, want) {
		t.Errorf("sleeps = %v, want %v", got, want)
	}
	if h.exec.quotaCalls != 3 {
		t.Errorf("quota calls = %d, want 3", h.exec.quotaCalls)
	}
}

func TestRun_FetchErrorRetries(t *testing.T) {
	h := newHarness()
	h.exec.quota = []quotaReply{quotaJSON(4000, h.clock.Now().Add(time.Hour))}
	h.exec.listErrs = []error{errors.New("HTTP 502")}
	h.exec.lists = []map[status.Token]string{{}}

	_, err := h.orchestrator(DefaultOptions()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := h.clock.Sleeps(); !reflect.DeepEqual(got, []time.Duration{5 * time.Second}) {
		t.Errorf("sleeps = %v, want [5s]", got)
	}
	if h.exec.quotaCalls != 2 {
		t.Errorf("quota calls = %d, want 2", h.exec.quotaCalls)
	}
}

func TestRun_NoProgress(t *testing.T) {
	h := newHarness()
	h.exec.quota = []quotaReply{quotaJSON(4000, h.clock.Now().Add(time.Hour))}
	h.exec.lists = []map[status.Token]string{{status.InProgress: "11\n12\n"}}
	h.exec.deleteErr = func(id domain.RunID) error {
		return errors.New("HTTP 403: Cannot delete an active workflow run")
	}
	opts := DefaultOptions()
	opts.Statuses = "in-progress"
	opts.NoProgressLimit = 3

	sum, err := h.orchestrator(opts).Run(context.Background())
	if !errors.Is(err, ErrNoProgress) {
		t.Fatalf("Run() error = %v, want ErrNoProgress", err)
	}
	if sum.Batches != 3 {
		t.Errorf("Batches = %d, want 3", sum.Batches)
	}
	if sum.Failed != 6 {
		t.Errorf("Failed = %d, want 6", sum.Failed)
	}
}

func TestRun_FailedBatchesDoNotStopByDefault(t *testing.T) {
	h := newHarness()
	h.exec.quota = []quotaReply{quotaJSON(4000, h.clock.Now().Add(time.Hour))}
	page := map[status.Token]string{status.Completed: "11\n12\n"}
	h.exec.lists = []map[status.Token]string{page, page, page, page, {}}
	calls := 0
	h.exec.deleteErr = func(id domain.RunID) error {
		calls++
		if calls <= 6 {
			return errors.New("gh run delete: HTTP 502: Bad Gateway")
		}
		return nil
	}

	opts := DefaultOptions()
	if opts.NoProgressLimit != 0 {
		t.Fatalf("NoProgressLimit = %d, want 0 by default", opts.NoProgressLimit)
	}

	sum, err := h.orchestrator(opts).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Deleted != 2 {
		t.Errorf("Deleted = %d, want 2", sum.Deleted)
	}
	if sum.Failed != 6 {
		t.Errorf("Failed = %d, want 6", sum.Failed)
	}
	if sum.Batches != 4 {
		t.Errorf("Batches = %d, want 4", sum.Batches)
	}
	if len(h.exec.deleted) != 2 {
		t.Errorf("runs deleted = %v, want 11 and 12", h.exec.deleted)
	}
	if last := h.states[len(h.states)-1]; last != StateDone {
		t.Errorf("final state = %v, want done", last)
	}
}

func TestDefaultOptions_MatchConfig(t *testing.T) {
	d := DefaultOptions()
	if d.Threshold != ratelimit.DefaultThreshold {
		t.Errorf("Threshold = %d, want %d", d.Threshold, ratelimit.DefaultThreshold)
	}
	if d.SafetyMargin != ratelimit.DefaultMargin || d.MaxHibernation != ratelimit.DefaultCeiling {
		t.Errorf("SafetyMargin/MaxHibernation = %v/%v", d.SafetyMargin, d.MaxHibernation)
	}
	if d.ProbeRetryDelay != 5*time.Second || d.NetworkDelay != 30*time.Second || d.Backoff != time.Minute {
		t.Errorf("delays = %v/%v/%v, want 5s/30s/1m", d.ProbeRetryDelay, d.NetworkDelay, d.Backoff)
	}
	if d.Statuses != "completed" {
		t.Errorf("Statuses = %q, want completed", d.Statuses)
	}
}

func TestRun_DryRun(t *testing.T) {
	h := newHarness()
	h.exec.quota = []quotaReply{quotaJSON(4000, h.clock.Now().Add(time.Hour))}
	h.exec.lists = []map[status.Token]string{{status.Completed: "5\n6\n"}}
	opts := DefaultOptions()
	opts.DryRun = true

	sum, err := h.orchestrator(opts).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.exec.deleteSeen != 0 {
		t.Error("dry run must not delete")
	}
	if !reflect.DeepEqual(sum.Pending, domain.RunBatch{5, 6}) {
		t.Errorf("Pending = %v, want [5 6]", sum.Pending)
	}
	if !sum.DryRun {
		t.Error("DryRun should be reported")
	}
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness()
	h.exec.quota = []quotaReply{quotaJSON(4000, h.clock.Now().Add(time.Hour))}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orchestrator(DefaultOptions()).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if h.exec.quotaCalls != 0 {
		t.Errorf("quota calls = %d, want 0", h.exec.quotaCalls)
	}
}

func TestRun_HibernationCeiling(t *testing.T) {
	h := newHarness()
	h.exec.quota = []quotaReply{
		// reset instant from a corrupted payload
		{body: `{"remaining":-3,"reset":9999999999999}`},
		quotaJSON(4000, h.clock.Now()),
	}
	opts := DefaultOptions()
	opts.MaxHibernation = 90 * time.Minute

	_, err := h.orchestrator(opts).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := h.clock.Sleeps(); !reflect.DeepEqual(got, []time.Duration{90 * time.Minute}) {
		t.Errorf("sleeps = %v, want [1h30m]", got)
	}
}

func TestState_String(t *testing.T) {
	if StateHibernating.String() != "hibernating" {
		t.Errorf("StateHibernating = %q", StateHibernating.String())
	}
	if State(42).String() != "unknown" {
		t.Errorf("State(42) = %q", State(42).String())
	}
}
