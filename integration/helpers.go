//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// repoRoot returns the module root
func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Dir(filepath.Dir(filename))
}

// binaryPath builds the CLI into a temp directory
func binaryPath(t *testing.T) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), "gh-run-purge")
	cmd := exec.Command("go", "build", "-o", out, "./cmd/gh-run-purge")
	cmd.Dir = repoRoot(t)
	if b, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, b)
	}
	return out
}

// TempConfigPath writes a config file and returns its path
func TempConfigPath(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

// FakeGh writes a gh stand-in that serves run ids from a state file, one per
// line, and removes them on delete. It returns the script and state paths.
func FakeGh(t *testing.T, ids []string) (string, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake gh is a shell script")
	}
	dir := t.TempDir()
	state := filepath.Join(dir, "runs")
	content := strings.Join(ids, "\n")
	if content != "" {
		content += "\n"
	}
	if err := os.WriteFile(state, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	script := `#!/bin/sh
state="` + state + `"
case "$1" in
api) echo '{"remaining":4999,"reset":4102444800}' ;;
run)
  case "$2" in
  list) cat "$state" ;;
  delete) grep -v "^$3\$" "$state" > "$state.tmp"; mv "$state.tmp" "$state" ;;
  esac ;;
esac
`
	bin := filepath.Join(dir, "gh")
	if err := os.WriteFile(bin, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return bin, state
}

// remaining returns the ids left in a FakeGh state file
func remaining(t *testing.T, state string) []string {
	t.Helper()
	data, err := os.ReadFile(state)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Fields(string(data))
}
