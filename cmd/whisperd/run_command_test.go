package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"whisperd/internal/protocol"
)

func TestRunCommandServesStdin(t *testing.T) {
	env := setupCLITestEnv(t)

	stdin := strings.Join([]string{
		`{"id":"p","action":"ping"}`,
		`{"id":"s","action":"status"}`,
		`{"id":"x","action":"shutdown"}`,
	}, "\n") + "\n"
	out, _, err := runCLI(t, []string{"run", "--idle-timeout", "60", "--model", "tiny"}, env.configPath, stdin)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 responses, got %d:\n%s", len(lines), out)
	}
	var status protocol.Response
	if err := json.Unmarshal([]byte(lines[1]), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Status == nil || status.Status.Model != "tiny" || status.Status.IdleTimeout != 60 {
		t.Fatalf("overrides not applied: %+v", status.Status)
	}

	logs, err := filepath.Glob(filepath.Join(env.logDir, "whisperd-*.log"))
	if err != nil || len(logs) != 1 {
		t.Fatalf("expected one run log, got %v (%v)", logs, err)
	}
	if _, err := os.Stat(filepath.Join(env.stateDir, "audit.db")); err != nil {
		t.Fatalf("expected audit ledger: %v", err)
	}
}

func TestRunCommandRejectsBadOverride(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"run", "--log-level", "chatty"}, env.configPath, "")
	if err == nil {
		t.Fatal("expected invalid log level to fail")
	}
	requireContains(t, err.Error(), "logging.level")
}
