package exec

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesStdout(t *testing.T) {
	result, err := Run(context.Background(), Options{Command: "echo hello"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "hello" {
		t.Fatalf("stdout = %q, want hello", result.Stdout)
	}
	if result.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", result.ExitCode)
	}
}

func TestRunCapturesNonZeroExit(t *testing.T) {
	result, err := Run(context.Background(), Options{Command: "exit 3"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", result.ExitCode)
	}
}

func TestRunRequiresCommand(t *testing.T) {
	if _, err := Run(context.Background(), Options{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestRunRespectsTimeout(t *testing.T) {
	result, err := Run(context.Background(), Options{Command: "sleep 5", Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.TimedOut {
		t.Fatal("expected TimedOut to be true")
	}
}

func TestRunCapsOutput(t *testing.T) {
	result, err := Run(context.Background(), Options{Command: "yes | head -c 100000", MaxOutputBytes: 10})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(result.Stdout) > 10 {
		t.Fatalf("stdout len = %d, want <= 10", len(result.Stdout))
	}
}

func TestSanitizeEnvRejectsUnsafeKey(t *testing.T) {
	if _, err := SanitizeEnv(map[string]string{"BAD;KEY": "v"}); err == nil {
		t.Fatal("expected error for unsafe env key")
	}
}

func TestSanitizeEnvRejectsNewlineValue(t *testing.T) {
	if _, err := SanitizeEnv(map[string]string{"OK": "v\nINJECTED=1"}); err == nil {
		t.Fatal("expected error for newline in env value")
	}
}
