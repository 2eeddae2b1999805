package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kodokalabs/tetsuo/internal/guard"
)

const testSecret = "test-secret"

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Load(dir, testSecret)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func TestLoadWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)

	if _, err := os.Stat(filepath.Join(dir, "settings.json")); err != nil {
		t.Fatalf("settings.json not written: %v", err)
	}
	cfg := s.Get()
	if !cfg.Security.SandboxEnabled || !cfg.Security.GatewayAuth {
		t.Fatalf("defaults should enable security switches: %+v", cfg.Security)
	}
	if cfg.AutonomyLevel != "medium" {
		t.Fatalf("default autonomy = %s", cfg.AutonomyLevel)
	}
}

func TestLoadRewritesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "settings.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := newTestStore(t, dir)
	if s.Get().AgentName == "" {
		t.Fatal("corrupt settings should be replaced by defaults")
	}
}

func TestUpdateDeepMerge(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	pending, err := s.Update(map[string]any{
		"agentName": "Kaneda",
		"limits":    map[string]any{"shellTimeoutSeconds": float64(30)},
	}, nil)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("safe patch should not require confirmation: %+v", pending)
	}

	cfg := s.Get()
	if cfg.AgentName != "Kaneda" {
		t.Fatalf("agentName = %s", cfg.AgentName)
	}
	if cfg.Limits.ShellTimeoutSeconds != 30 {
		t.Fatalf("shellTimeoutSeconds = %d", cfg.Limits.ShellTimeoutSeconds)
	}
	// Untouched fields survive the merge.
	if cfg.Limits.MaxToolOutputChars != Defaults().Limits.MaxToolOutputChars {
		t.Fatal("sibling limit fields should be unchanged")
	}
	if !cfg.Security.SandboxEnabled {
		t.Fatal("security section should be unchanged")
	}
}

func TestDangerousValueRequiresConfirmation(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	pending, err := s.Update(map[string]any{
		"agentName": "safe-change",
		"security":  map[string]any{"sandboxEnabled": false},
	}, nil)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(pending) != 1 || pending[0].Key != "security.sandboxEnabled" {
		t.Fatalf("expected one pending confirmation, got %+v", pending)
	}
	if pending[0].Confirm == "" {
		t.Fatal("pending confirmation must carry the token")
	}

	cfg := s.Get()
	if !cfg.Security.SandboxEnabled {
		t.Fatal("dangerous value must not apply without confirmation")
	}
	if cfg.AgentName != "safe-change" {
		t.Fatal("safe subset should still apply")
	}

	// With the token the same patch applies.
	token := guard.ConfirmToken(testSecret, "security.sandboxEnabled", "false")
	pending, err = s.Update(
		map[string]any{"security": map[string]any{"sandboxEnabled": false}},
		map[string]string{"security.sandboxEnabled": token},
	)
	if err != nil {
		t.Fatalf("confirmed update: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("confirmed patch should apply, got %+v", pending)
	}
	if s.Get().Security.SandboxEnabled {
		t.Fatal("confirmed dangerous value should apply")
	}
}

func TestUpdateRejectsBadAutonomy(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	if _, err := s.Update(map[string]any{"autonomyLevel": "yolo"}, nil); err == nil {
		t.Fatal("invalid autonomy level should be rejected")
	}
}

func TestUpdatePersists(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	if _, err := s.Update(map[string]any{"agentName": "Tetsuo-2"}, nil); err != nil {
		t.Fatal(err)
	}

	s2 := newTestStore(t, dir)
	if s2.Get().AgentName != "Tetsuo-2" {
		t.Fatal("update should survive reload")
	}
}

func TestOnChangeFires(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	var got RuntimeSettings
	s.OnChange(func(cfg RuntimeSettings) { got = cfg })

	if _, err := s.Update(map[string]any{"agentName": "X"}, nil); err != nil {
		t.Fatal(err)
	}
	if got.AgentName != "X" {
		t.Fatal("OnChange callback should see the new settings")
	}
}
