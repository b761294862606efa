// Package gh runs the GitHub CLI on behalf of the purge loop.
package gh

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/hochfrequenz/gh-run-purge/internal/domain"
	"github.com/hochfrequenz/gh-run-purge/internal/status"
)

// DefaultBinary is the gh executable looked up on PATH
const DefaultBinary = "gh"

// CommandError is returned when gh exits unsuccessfully. Stderr is kept
// verbatim because callers inspect it for rate limit markers.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	cmd := "gh " + strings.Join(e.Args, " ")
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %s: %v", cmd, e.Stderr, e.Err)
	}
	return fmt.Sprintf("%s: %v", cmd, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

type runFunc func(ctx context.Context, name string, args []string) (stdout, stderr []byte, err error)

// Executor drives gh for quota checks, listing and deleting runs
type Executor struct {
	binary string
	repo   string
	run    runFunc
}

// NewExecutor creates an Executor. An empty binary means DefaultBinary; an
// empty repo lets gh resolve the repository from the working directory.
func NewExecutor(binary, repo string) *Executor {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Executor{
		binary: binary,
		repo:   repo,
		run:    runCommand,
	}
}

func runCommand(ctx context.Context, name string, args []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Available checks that the gh binary can be found
func (e *Executor) Available() error {
	if _, err := exec.LookPath(e.binary); err != nil {
		return fmt.Errorf("gh CLI not found: %w", err)
	}
	return nil
}

// QueryQuota returns the core rate limit object as JSON
func (e *Executor) QueryQuota(ctx context.Context) ([]byte, error) {
	// gh api rate_limit --jq .resources.core
	return e.exec(ctx, false, "api", "rate_limit", "--jq", ".resources.core")
}

// ListRuns returns up to limit run ids with the given status, one per line
func (e *Executor) ListRuns(ctx context.Context, s status.Token, limit int) ([]byte, error) {
	// gh run list --status completed --limit 300 --json databaseId -q .[].databaseId
	return e.exec(ctx, true, "run", "list",
		"--status", string(s),
		"--limit", strconv.Itoa(limit),
		"--json", "databaseId",
		"-q", ".[].databaseId")
}

// DeleteRun deletes a single workflow run
func (e *Executor) DeleteRun(ctx context.Context, id domain.RunID) error {
	_, err := e.exec(ctx, true, "run", "delete", id.String())
	return err
}

func (e *Executor) exec(ctx context.Context, withRepo bool, args ...string) ([]byte, error) {
	if withRepo && e.repo != "" {
		args = append(args, "--repo", e.repo)
	}
	stdout, stderr, err := e.run(ctx, e.binary, args)
	if err != nil {
		return nil, &CommandError{
			Args:   args,
			Stderr: strings.TrimSpace(string(stderr)),
			Err:    err,
		}
	}
	return stdout, nil
}
