package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRun_NoArgsPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"clawd-bridge"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), "Usage:") {
		t.Fatalf("usage not printed: %q", stdout.String())
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"clawd-bridge", "bogus"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "Unknown command: bogus") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"clawd-bridge", "version"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), "clawd-bridge") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunAudit_RequiresDB(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runAudit(nil, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "--db is required") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunStatus_BridgeUnreachable(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runStatus([]string{"--addr", "127.0.0.1:1"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "not reachable") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}
