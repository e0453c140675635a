package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaultsWithNoPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr == "" {
		t.Fatal("expected a default listen_addr")
	}
	if len(cfg.ApprovalPolicy.RequireForKinds) == 0 {
		t.Fatal("expected default approval policy to require approval for some kinds")
	}
}

func TestLoadOverlaysFileValues(t *testing.T) {
	path := writeTempConfig(t, `{
		"listen_addr": "0.0.0.0:9000",
		"data_dir": "/tmp/agentd-data",
		"model_policy": {"max_cost_usd": 2.5, "preferred_models": ["claude-sonnet"]},
		"verify_commands": ["go test ./..."]
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.DataDir != "/tmp/agentd-data" {
		t.Fatalf("DataDir = %q", cfg.DataDir)
	}
	if cfg.ModelPolicy.MaxCostUSD != 2.5 {
		t.Fatalf("MaxCostUSD = %v", cfg.ModelPolicy.MaxCostUSD)
	}
	if len(cfg.VerifyCommands) != 1 || cfg.VerifyCommands[0] != "go test ./..." {
		t.Fatalf("VerifyCommands = %v", cfg.VerifyCommands)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeTempConfig(t, `{"listen_addr": "127.0.0.1:9", "bogus_field": true}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown top-level key")
	}
}

func TestLoadExpandsHomeInDataDir(t *testing.T) {
	path := writeTempConfig(t, `{"data_dir": "~/custom-agentd"}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(home, "custom-agentd")
	if cfg.DataDir != want {
		t.Fatalf("DataDir = %q, want %q", cfg.DataDir, want)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeTempConfig(t, `{"listen_addr": "0.0.0.0:9000"}`)
	t.Setenv("HARNESS_LISTEN", "127.0.0.1:7070")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:7070" {
		t.Fatalf("ListenAddr = %q, want env override to win", cfg.ListenAddr)
	}
}

func TestLoadDotenvDoesNotOverrideExisting(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("HARNESS_AUTH_TOKEN=from-file\nFOO=bar\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HARNESS_AUTH_TOKEN", "from-env")
	os.Unsetenv("FOO")

	if err := LoadDotenv(envPath); err != nil {
		t.Fatalf("LoadDotenv: %v", err)
	}
	if os.Getenv("HARNESS_AUTH_TOKEN") != "from-env" {
		t.Fatalf("HARNESS_AUTH_TOKEN = %q, want existing value preserved", os.Getenv("HARNESS_AUTH_TOKEN"))
	}
	if os.Getenv("FOO") != "bar" {
		t.Fatalf("FOO = %q, want bar", os.Getenv("FOO"))
	}
}
