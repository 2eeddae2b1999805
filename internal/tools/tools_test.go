package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kodokalabs/tetsuo/internal/bus"
	"github.com/kodokalabs/tetsuo/internal/guard"
	"github.com/kodokalabs/tetsuo/internal/settings"
)

func testSettings() settings.RuntimeSettings {
	return settings.Defaults()
}

func TestReadWriteListRoundTrip(t *testing.T) {
	jail := guard.NewPathJail(t.TempDir())
	write := &WriteFileTool{Jail: jail}
	read := &ReadFileTool{Jail: jail}
	list := &ListDirectoryTool{Jail: jail}
	ctx := context.Background()

	if _, err := write.Execute(ctx, map[string]any{"path": "notes/today.md", "content": "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := read.Execute(ctx, map[string]any{"path": "notes/today.md"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "hello" {
		t.Fatalf("content = %q", got)
	}

	if _, err := write.Execute(ctx, map[string]any{"path": "notes/today.md", "content": " again", "append": true}); err != nil {
		t.Fatal(err)
	}
	got, _ = read.Execute(ctx, map[string]any{"path": "notes/today.md"})
	if got != "hello again" {
		t.Fatalf("appended content = %q", got)
	}

	dir, err := list.Execute(ctx, map[string]any{"path": "notes"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(dir, "today.md") {
		t.Fatalf("listing = %q", dir)
	}
}

func TestFileToolsRejectEscapes(t *testing.T) {
	jail := guard.NewPathJail(t.TempDir())
	ctx := context.Background()

	if _, err := (&ReadFileTool{Jail: jail}).Execute(ctx, map[string]any{"path": "../../etc/passwd"}); err == nil {
		t.Fatal("read outside workspace should fail")
	}
	if _, err := (&WriteFileTool{Jail: jail}).Execute(ctx, map[string]any{"path": "/etc/evil", "content": "x"}); err == nil {
		t.Fatal("write outside workspace should fail")
	}
}

func TestWriteFileRejectsExecutables(t *testing.T) {
	jail := guard.NewPathJail(t.TempDir())
	write := &WriteFileTool{Jail: jail}
	for _, name := range []string{"tool.exe", "run.bat", "s.ps1", "x.vbs"} {
		_, err := write.Execute(context.Background(), map[string]any{"path": name, "content": "x"})
		if err == nil {
			t.Errorf("writing %s should be rejected", name)
		}
	}
}

func TestRunShellExecutesInWorkspace(t *testing.T) {
	dir := t.TempDir()
	jail := guard.NewPathJail(dir)
	shell := &RunShellTool{Jail: jail, Settings: testSettings}

	out, err := shell.Execute(context.Background(), map[string]any{"command": "pwd"})
	if err != nil {
		t.Fatalf("shell: %v", err)
	}
	if !strings.Contains(out, filepath.Base(dir)) {
		t.Fatalf("cwd should be the workspace, got %q", out)
	}
}

func TestRunShellBlocksDangerousCommand(t *testing.T) {
	shell := &RunShellTool{Jail: guard.NewPathJail(t.TempDir()), Settings: testSettings}
	_, err := shell.Execute(context.Background(), map[string]any{"command": "rm -rf /"})
	if err == nil {
		t.Fatal("dangerous command should be blocked")
	}
	if _, ok := err.(*guard.SecurityError); !ok {
		t.Fatalf("expected SecurityError, got %T", err)
	}
}

func TestStrippedEnv(t *testing.T) {
	env := []string{
		"PATH=/usr/bin",
		"OPENAI_API_KEY=sk-secret",
		"TELEGRAM_BOT_TOKEN=t",
		"GITHUB_TOKEN=g",
		"HOME=/home/u",
	}
	got := strippedEnv(env)
	joined := strings.Join(got, "\n")
	if strings.Contains(joined, "API_KEY") || strings.Contains(joined, "TOKEN") {
		t.Fatalf("secrets leaked into child env: %v", got)
	}
	if !strings.Contains(joined, "PATH=/usr/bin") || !strings.Contains(joined, "HOME=/home/u") {
		t.Fatalf("benign vars dropped: %v", got)
	}
}

func TestRegistryExecuteCall(t *testing.T) {
	events := bus.NewEventStream()
	var seen []string
	events.SubscribeEvents(func(ev bus.Event) { seen = append(seen, ev.Type) })

	registry := NewRegistry(events, nil, func() int { return 20 })
	registry.Register(&SystemInfoTool{})

	result, isErr := registry.ExecuteCall(context.Background(), "system_info", nil, CallMeta{})
	if isErr {
		t.Fatalf("unexpected error result: %q", result)
	}
	if len(result) > 20+len("\n… (output truncated)") {
		t.Fatalf("result not truncated: %q", result)
	}
	if len(seen) != 2 || seen[0] != bus.EventToolCalled || seen[1] != bus.EventToolResult {
		t.Fatalf("events = %v", seen)
	}

	result, isErr = registry.ExecuteCall(context.Background(), "no_such_tool", nil, CallMeta{})
	if !isErr || !strings.Contains(result, "unknown tool") {
		t.Fatalf("unknown tool result = %q isErr=%v", result, isErr)
	}
}

func TestRegistryCategoryFilter(t *testing.T) {
	registry := NewRegistry(nil, nil, nil)
	registry.Register(&SystemInfoTool{})
	registry.Register(&RunShellTool{Jail: guard.NewPathJail(t.TempDir()), Settings: testSettings})

	all := registry.List(nil)
	if len(all) != 2 {
		t.Fatalf("unfiltered list = %d", len(all))
	}
	noShell := registry.List(func(category string) bool { return category != "shell" })
	if len(noShell) != 1 || noShell[0].Name() != "system_info" {
		t.Fatalf("filtered list = %v", noShell)
	}
}

func TestWebFetchBlocksPrivateTargets(t *testing.T) {
	validator := guard.NewURLValidator()
	tool := NewWebFetchTool(testSettings, validator.Validate)

	_, err := tool.Execute(context.Background(), map[string]any{"url": "http://169.254.169.254/latest/meta-data"})
	if err == nil {
		t.Fatal("metadata endpoint must be rejected before any request")
	}
	if _, ok := err.(*guard.SecurityError); !ok {
		t.Fatalf("expected SecurityError, got %T", err)
	}
}

func TestSanitizeControlInput(t *testing.T) {
	got := sanitizeControlInput("open\x00 this\x1b[31m app\n")
	if strings.ContainsAny(got, "\x00\x1b\n") {
		t.Fatalf("control characters survived: %q", got)
	}
}

func TestWriteFileCreatesParents(t *testing.T) {
	dir := t.TempDir()
	write := &WriteFileTool{Jail: guard.NewPathJail(dir)}
	if _, err := write.Execute(context.Background(), map[string]any{"path": "a/b/c/file.txt", "content": "x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a", "b", "c", "file.txt")); err != nil {
		t.Fatalf("nested file missing: %v", err)
	}
}
