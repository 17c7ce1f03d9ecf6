package procscan

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func TestNewCommandSourceRejectsEmpty(t *testing.T) {
	if _, err := NewCommandSource("   "); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestCommandSourceCollect(t *testing.T) {
	requireBinary(t, "echo")

	source, err := NewCommandSource("echo  Chrome.501,1000,2000")
	if err != nil {
		t.Fatalf("NewCommandSource: %v", err)
	}
	if source.String() != "echo Chrome.501,1000,2000" {
		t.Fatalf("unexpected command line %q", source.String())
	}

	output, err := source.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if strings.TrimSpace(string(output)) != "Chrome.501,1000,2000" {
		t.Fatalf("unexpected output %q", output)
	}
}

func TestCommandSourceMissingBinary(t *testing.T) {
	source, err := NewCommandSource("/nonexistent/accounting-tool -L 1")
	if err != nil {
		t.Fatalf("NewCommandSource: %v", err)
	}
	output, err := source.Collect(context.Background())
	if err == nil {
		t.Fatalf("expected launch error")
	}
	if len(output) != 0 {
		t.Fatalf("expected no output on launch failure, got %q", output)
	}
}

func TestCommandSourceTimeout(t *testing.T) {
	requireBinary(t, "sleep")

	source, err := NewCommandSource("sleep 5")
	if err != nil {
		t.Fatalf("NewCommandSource: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	output, err := source.Collect(ctx)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if output != nil {
		t.Fatalf("expected no output after timeout, got %q", output)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
}

func TestCommandSourceNonZeroExitKeepsOutput(t *testing.T) {
	requireBinary(t, "sh")

	source := &CommandSource{path: "sh", args: []string{"-c", "echo app.1,5,6; echo oops >&2; exit 3"}}
	output, err := source.Collect(context.Background())
	if err == nil {
		t.Fatalf("expected exit error")
	}
	if !strings.Contains(err.Error(), "oops") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
	if strings.TrimSpace(string(output)) != "app.1,5,6" {
		t.Fatalf("expected stdout to be preserved, got %q", output)
	}
}
