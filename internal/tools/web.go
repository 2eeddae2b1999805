package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kodokalabs/tetsuo/internal/guard"
	"github.com/kodokalabs/tetsuo/internal/settings"
)

const (
	webFetchTimeout = 15 * time.Second
	webFetchBodyMax = 30000
)

// WebFetchTool fetches a URL after SSRF validation.
type WebFetchTool struct {
	Settings func() settings.RuntimeSettings
	Validate func(url string) error
	client   *http.Client
}

// NewWebFetchTool creates the tool with the standard 15s client.
func NewWebFetchTool(settingsFn func() settings.RuntimeSettings, validate func(string) error) *WebFetchTool {
	return &WebFetchTool{
		Settings: settingsFn,
		Validate: validate,
		client:   &http.Client{Timeout: webFetchTimeout},
	}
}

func (t *WebFetchTool) Name() string     { return "web_fetch" }
func (t *WebFetchTool) Risk() string     { return RiskLow }
func (t *WebFetchTool) Category() string { return "web" }

func (t *WebFetchTool) Description() string {
	return "Fetch the contents of a web page over http or https."
}

func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to fetch",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	rawURL := GetString(params, "url", "")
	if rawURL == "" {
		return "Error: url is required", nil
	}

	cfg := t.Settings()
	if cfg.Security.SSRFProtection {
		if err := t.Validate(rawURL); err != nil {
			return "", err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, webFetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", guard.Validationf("invalid URL: %v", err)
	}
	req.Header.Set("User-Agent", "tetsuo-agent/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error fetching URL: %v", err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchBodyMax+1))
	if err != nil {
		return fmt.Sprintf("Error reading response: %v", err), nil
	}
	text := string(body)
	if len(text) > webFetchBodyMax {
		text = text[:webFetchBodyMax] + "\n… (body truncated)"
	}

	if resp.StatusCode >= 400 {
		return fmt.Sprintf("HTTP %d from %s:\n%s", resp.StatusCode, rawURL, text), nil
	}
	if cfg.Security.InjectionGuard {
		text = guard.WrapUntrusted(rawURL, text)
	}
	return text, nil
}
