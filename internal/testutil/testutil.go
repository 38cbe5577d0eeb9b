package testutil

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// AllocateTestPort returns a deterministic port based on test name
func AllocateTestPort(t *testing.T) int {
	t.Helper()
	h := fnv.New32a()
	h.Write([]byte(t.Name()))
	return 20000 + int(h.Sum32()%10000)
}

// WaitForHealthy waits for a URL to return 200 OK
func WaitForHealthy(t *testing.T, client *http.Client, url string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(50 * time.Millisecond)
	}

	t.Fatalf("Service at %s did not become healthy within %v", url, timeout)
}

// FakeNix writes a stand-in for nix and nix-shell into a temp dir and
// returns its path. It runs whatever follows --command, or the --run
// command line, with everything before it ignored. When argsLog is not
// empty, the received arguments are written there one per line.
func FakeNix(t *testing.T, argsLog string) string {
	t.Helper()

	script := fmt.Sprintf(`#!/usr/bin/env bash
log=%q
if [ -n "$log" ]; then printf '%%s\n' "$@" > "$log"; fi
while [ $# -gt 0 ]; do
  case "$1" in
    --command) shift; exec "$@" ;;
    --run) shift; exec bash -c "$1" ;;
  esac
  shift
done
echo "fake nix: no --command or --run" >&2
exit 97
`, argsLog)

	path := filepath.Join(t.TempDir(), "fake-nix")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing fake nix: %v", err)
	}
	return path
}

// WriteScript writes a nix-runner script and returns its path.
func WriteScript(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		t.Fatalf("writing script: %v", err)
	}
	return path
}
