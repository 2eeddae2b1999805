package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kodokalabs/tetsuo/internal/guard"
	"github.com/kodokalabs/tetsuo/internal/settings"
)

const (
	shellMaxTimeout = 120 * time.Second
	shellBufferCap  = 5 << 20 // 5 MB per stream
	shellStdoutMax  = 10000
	shellStderrMax  = 5000
)

// secret-bearing environment suffixes stripped from child processes.
var strippedEnvSuffixes = []string{"_API_KEY", "_TOKEN", "_BOT_TOKEN"}

// RunShellTool executes shell commands inside the workspace.
type RunShellTool struct {
	Jail     *guard.PathJail
	Settings func() settings.RuntimeSettings
}

func (t *RunShellTool) Name() string     { return "run_shell" }
func (t *RunShellTool) Risk() string     { return RiskHigh }
func (t *RunShellTool) Category() string { return "shell" }

func (t *RunShellTool) Description() string {
	return "Execute a shell command in the workspace and return its output."
}

func (t *RunShellTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"working_dir": map[string]any{
				"type":        "string",
				"description": "Optional working directory, relative to the workspace",
			},
		},
		"required": []string{"command"},
	}
}

func (t *RunShellTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	command := GetString(params, "command", "")
	if command == "" {
		return "Error: command is required", nil
	}

	cfg := t.Settings()
	if cfg.Security.SandboxEnabled {
		if err := guard.ValidateShellCommand(command); err != nil {
			return "", err
		}
	}

	workDir := t.Jail.Root()
	if wd := GetString(params, "working_dir", ""); wd != "" {
		safe, err := t.Jail.SafePath(wd)
		if err != nil {
			return "", err
		}
		workDir = safe
	}

	timeout := time.Duration(cfg.Limits.ShellTimeoutSeconds) * time.Second
	if timeout <= 0 || timeout > shellMaxTimeout {
		timeout = shellMaxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workDir
	cmd.Env = strippedEnv(os.Environ())

	var stdout, stderr boundedBuffer
	stdout.cap = shellBufferCap
	stderr.cap = shellBufferCap
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var result strings.Builder
	if out := stdout.String(); out != "" {
		result.WriteString(truncateStr(out, shellStdoutMax))
	}
	if errOut := stderr.String(); errOut != "" {
		if result.Len() > 0 {
			result.WriteString("\n")
		}
		result.WriteString("STDERR:\n")
		result.WriteString(truncateStr(errOut, shellStderrMax))
	}

	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Error: command timed out after %v\n%s", timeout, result.String()), nil
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.WriteString(fmt.Sprintf("\nExit code: %d", exitErr.ExitCode()))
		} else {
			return fmt.Sprintf("Error executing command: %v", err), nil
		}
	}
	if result.Len() == 0 {
		return "(no output)", nil
	}
	return result.String(), nil
}

// strippedEnv removes secret-bearing variables from the child environment.
func strippedEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		stripped := false
		for _, suffix := range strippedEnvSuffixes {
			if strings.HasSuffix(name, suffix) {
				stripped = true
				break
			}
		}
		if !stripped {
			out = append(out, kv)
		}
	}
	return out
}

// boundedBuffer discards writes past cap so a chatty child cannot exhaust
// memory.
type boundedBuffer struct {
	buf bytes.Buffer
	cap int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if b.buf.Len() >= b.cap {
		return n, nil
	}
	if b.buf.Len()+len(p) > b.cap {
		p = p[:b.cap-b.buf.Len()]
	}
	b.buf.Write(p)
	return n, nil
}

func (b *boundedBuffer) String() string {
	return b.buf.String()
}
