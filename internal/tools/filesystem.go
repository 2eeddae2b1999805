package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kodokalabs/tetsuo/internal/guard"
)

// executable extensions rejected by write_file.
var blockedWriteExtensions = map[string]bool{
	".exe": true, ".bat": true, ".cmd": true, ".com": true,
	".msi": true, ".scr": true, ".ps1": true, ".vbs": true, ".wsf": true,
}

// ReadFileTool reads the contents of a file inside the workspace.
type ReadFileTool struct {
	Jail *guard.PathJail
}

func (t *ReadFileTool) Name() string     { return "read_file" }
func (t *ReadFileTool) Risk() string     { return RiskLow }
func (t *ReadFileTool) Category() string { return "file" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file. Paths are relative to the workspace root."
}

func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path to the file to read",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path := GetString(params, "path", "")
	if path == "" {
		return "Error: path is required", nil
	}
	safe, err := t.Jail.SafePath(path)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(safe)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("Error: file not found: %s", path), nil
		}
		return fmt.Sprintf("Error reading file: %v", err), nil
	}
	return string(content), nil
}

// WriteFileTool writes content to a file inside the workspace.
type WriteFileTool struct {
	Jail *guard.PathJail
}

func (t *WriteFileTool) Name() string     { return "write_file" }
func (t *WriteFileTool) Risk() string     { return RiskMedium }
func (t *WriteFileTool) Category() string { return "file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file. Creates parent directories if needed. Set append to true to append instead of overwrite."
}

func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path to the file to write",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The content to write",
			},
			"append": map[string]any{
				"type":        "boolean",
				"description": "Append to the file instead of overwriting",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path := GetString(params, "path", "")
	content := GetString(params, "content", "")
	appendMode := GetBool(params, "append", false)
	if path == "" {
		return "Error: path is required", nil
	}

	safe, err := t.Jail.SafePath(path)
	if err != nil {
		return "", err
	}
	if blockedWriteExtensions[strings.ToLower(filepath.Ext(safe))] {
		return "", guard.Securityf("refusing to write executable file type: %s", filepath.Ext(safe))
	}
	if err := os.MkdirAll(filepath.Dir(safe), 0o755); err != nil {
		return fmt.Sprintf("Error creating directories: %v", err), nil
	}

	if appendMode {
		f, err := os.OpenFile(safe, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Sprintf("Error opening file: %v", err), nil
		}
		defer f.Close()
		if _, err := f.WriteString(content); err != nil {
			return fmt.Sprintf("Error appending: %v", err), nil
		}
		return fmt.Sprintf("Appended %d bytes to %s", len(content), path), nil
	}

	if err := os.WriteFile(safe, []byte(content), 0o644); err != nil {
		return fmt.Sprintf("Error writing file: %v", err), nil
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}

// ListDirectoryTool lists entries in a workspace directory.
type ListDirectoryTool struct {
	Jail *guard.PathJail
}

func (t *ListDirectoryTool) Name() string     { return "list_directory" }
func (t *ListDirectoryTool) Risk() string     { return RiskLow }
func (t *ListDirectoryTool) Category() string { return "file" }

func (t *ListDirectoryTool) Description() string {
	return "List the entries of a directory. Defaults to the workspace root."
}

func (t *ListDirectoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The directory to list",
			},
		},
	}
}

func (t *ListDirectoryTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path := GetString(params, "path", ".")
	safe, err := t.Jail.SafePath(path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(safe)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("Error: directory not found: %s", path), nil
		}
		return fmt.Sprintf("Error listing directory: %v", err), nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	var sb strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(&sb, "%s/\n", e.Name())
			continue
		}
		info, err := e.Info()
		if err != nil {
			fmt.Fprintf(&sb, "%s\n", e.Name())
			continue
		}
		fmt.Fprintf(&sb, "%s (%d bytes)\n", e.Name(), info.Size())
	}
	if sb.Len() == 0 {
		return "(empty directory)", nil
	}
	return sb.String(), nil
}
