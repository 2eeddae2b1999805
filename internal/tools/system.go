package tools

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/kodokalabs/tetsuo/internal/settings"
)

// SystemController is the contract for concrete OS-control invocations
// (clipboard, launching applications). The implementation lives
// outside the core; a nil controller reports the capability as unavailable.
type SystemController interface {
	ClipboardRead(ctx context.Context) (string, error)
	ClipboardWrite(ctx context.Context, text string) error
	OpenApplication(ctx context.Context, name string) error
}

// sanitizeControlInput strips control characters from values handed to OS
// invocations.
func sanitizeControlInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}

// SystemInfoTool reports basic host information.
type SystemInfoTool struct{}

func (t *SystemInfoTool) Name() string     { return "system_info" }
func (t *SystemInfoTool) Risk() string     { return RiskLow }
func (t *SystemInfoTool) Category() string { return "system" }

func (t *SystemInfoTool) Description() string {
	return "Report the host operating system, architecture, and CPU count."
}

func (t *SystemInfoTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *SystemInfoTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	return fmt.Sprintf("%s %s, %d CPUs, Go %s",
		runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), runtime.Version()), nil
}

// ClipboardWriteTool places text on the system clipboard.
type ClipboardWriteTool struct {
	Controller SystemController
	Settings   func() settings.RuntimeSettings
}

func (t *ClipboardWriteTool) Name() string     { return "clipboard_write" }
func (t *ClipboardWriteTool) Risk() string     { return RiskMedium }
func (t *ClipboardWriteTool) Category() string { return "system" }

func (t *ClipboardWriteTool) Description() string {
	return "Write text to the system clipboard."
}

func (t *ClipboardWriteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []string{"text"},
	}
}

func (t *ClipboardWriteTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if !t.Settings().Tools.SystemControl {
		return "Error: system control is disabled in settings", nil
	}
	if t.Controller == nil {
		return "Error: no system controller is configured on this host", nil
	}
	text := sanitizeControlInput(GetString(params, "text", ""))
	if err := t.Controller.ClipboardWrite(ctx, text); err != nil {
		return fmt.Sprintf("Error writing clipboard: %v", err), nil
	}
	return fmt.Sprintf("Copied %d chars to clipboard", len(text)), nil
}

// OpenApplicationTool launches an application by name.
type OpenApplicationTool struct {
	Controller SystemController
	Settings   func() settings.RuntimeSettings
}

func (t *OpenApplicationTool) Name() string     { return "open_application" }
func (t *OpenApplicationTool) Risk() string     { return RiskHigh }
func (t *OpenApplicationTool) Category() string { return "system" }

func (t *OpenApplicationTool) Description() string {
	return "Open an application on the host."
}

func (t *OpenApplicationTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
		"required": []string{"name"},
	}
}

func (t *OpenApplicationTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if !t.Settings().Tools.SystemControl {
		return "Error: system control is disabled in settings", nil
	}
	if t.Controller == nil {
		return "Error: no system controller is configured on this host", nil
	}
	name := sanitizeControlInput(GetString(params, "name", ""))
	if name == "" {
		return "Error: name is required", nil
	}
	if err := t.Controller.OpenApplication(ctx, name); err != nil {
		return fmt.Sprintf("Error opening %s: %v", name, err), nil
	}
	return fmt.Sprintf("Opened %s", name), nil
}
