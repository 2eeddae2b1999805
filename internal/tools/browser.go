package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/kodokalabs/tetsuo/internal/guard"
	"github.com/kodokalabs/tetsuo/internal/settings"
)

const browserActionTimeout = 15 * time.Second

// BrowserTool drives a headless browser. Every subresource request is run
// through the SSRF validator via fetch-domain interception, not just the
// top-level navigation. Arbitrary script evaluation is deliberately absent.
type BrowserTool struct {
	Jail     *guard.PathJail
	Settings func() settings.RuntimeSettings
	Validate func(url string) error

	mu        sync.Mutex
	allocCtx  context.Context
	allocStop context.CancelFunc
	tabCtx    context.Context
	tabStop   context.CancelFunc
}

func (t *BrowserTool) Name() string     { return "browser_action" }
func (t *BrowserTool) Risk() string     { return RiskMedium }
func (t *BrowserTool) Category() string { return "browser" }

func (t *BrowserTool) Description() string {
	return "Control a headless browser. Actions: navigate, screenshot, click, type, get_text."
}

func (t *BrowserTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"navigate", "screenshot", "click", "type", "get_text"},
				"description": "The browser action to perform",
			},
			"url": map[string]any{
				"type":        "string",
				"description": "URL for navigate",
			},
			"selector": map[string]any{
				"type":        "string",
				"description": "CSS selector for click, type, and get_text",
			},
			"text": map[string]any{
				"type":        "string",
				"description": "Text to type",
			},
		},
		"required": []string{"action"},
	}
}

func (t *BrowserTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	action := GetString(params, "action", "")
	cfg := t.Settings()

	tab, err := t.tab()
	if err != nil {
		return fmt.Sprintf("Error starting browser: %v", err), nil
	}
	runCtx, cancel := context.WithTimeout(tab, browserActionTimeout)
	defer cancel()

	switch action {
	case "navigate":
		rawURL := GetString(params, "url", "")
		if rawURL == "" {
			return "Error: url is required for navigate", nil
		}
		if cfg.Security.SSRFProtection {
			if err := t.Validate(rawURL); err != nil {
				return "", err
			}
		}
		if err := chromedp.Run(runCtx, chromedp.Navigate(rawURL)); err != nil {
			return fmt.Sprintf("Error navigating: %v", err), nil
		}
		var title string
		_ = chromedp.Run(runCtx, chromedp.Title(&title))
		return fmt.Sprintf("Navigated to %s (title: %s)", rawURL, title), nil

	case "screenshot":
		var buf []byte
		if err := chromedp.Run(runCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
			return fmt.Sprintf("Error capturing screenshot: %v", err), nil
		}
		name := fmt.Sprintf("screenshot-%d.png", time.Now().Unix())
		path := filepath.Join(t.Jail.Root(), name)
		if err := os.WriteFile(path, buf, 0o644); err != nil {
			return fmt.Sprintf("Error saving screenshot: %v", err), nil
		}
		return fmt.Sprintf("Screenshot saved to %s", name), nil

	case "click":
		selector := GetString(params, "selector", "")
		if selector == "" {
			return "Error: selector is required for click", nil
		}
		if err := chromedp.Run(runCtx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
			return fmt.Sprintf("Error clicking %s: %v", selector, err), nil
		}
		return fmt.Sprintf("Clicked %s", selector), nil

	case "type":
		selector := GetString(params, "selector", "")
		text := GetString(params, "text", "")
		if selector == "" {
			return "Error: selector is required for type", nil
		}
		if err := chromedp.Run(runCtx, chromedp.SendKeys(selector, text, chromedp.ByQuery)); err != nil {
			return fmt.Sprintf("Error typing into %s: %v", selector, err), nil
		}
		return fmt.Sprintf("Typed %d chars into %s", len(text), selector), nil

	case "get_text":
		selector := GetString(params, "selector", "body")
		var text string
		if err := chromedp.Run(runCtx, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
			return fmt.Sprintf("Error reading text from %s: %v", selector, err), nil
		}
		if cfg.Security.InjectionGuard {
			text = guard.WrapUntrusted("browser:"+selector, text)
		}
		return text, nil

	default:
		return fmt.Sprintf("Error: unknown browser action %q", action), nil
	}
}

// tab returns the shared browser tab, starting the browser on first use.
func (t *BrowserTool) tab() (context.Context, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tabCtx != nil && t.tabCtx.Err() == nil {
		return t.tabCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
	)
	t.allocCtx, t.allocStop = chromedp.NewExecAllocator(context.Background(), opts...)
	t.tabCtx, t.tabStop = chromedp.NewContext(t.allocCtx)

	// Enable fetch interception so every subresource passes the validator.
	if err := chromedp.Run(t.tabCtx, fetch.Enable()); err != nil {
		t.closeLocked()
		return nil, err
	}
	chromedp.ListenTarget(t.tabCtx, func(ev any) {
		if req, ok := ev.(*fetch.EventRequestPaused); ok {
			go t.handlePaused(req)
		}
	})
	return t.tabCtx, nil
}

// handlePaused validates an intercepted request and continues or fails it.
func (t *BrowserTool) handlePaused(ev *fetch.EventRequestPaused) {
	t.mu.Lock()
	tab := t.tabCtx
	t.mu.Unlock()
	if tab == nil || tab.Err() != nil {
		return
	}
	c := chromedp.FromContext(tab)
	cdpCtx := cdp.WithExecutor(tab, c.Target)

	allowed := true
	if t.Settings().Security.SSRFProtection {
		if err := t.Validate(ev.Request.URL); err != nil {
			allowed = false
		}
	}
	if allowed {
		_ = fetch.ContinueRequest(ev.RequestID).Do(cdpCtx)
		return
	}
	_ = fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(cdpCtx)
}

// Close shuts the browser down.
func (t *BrowserTool) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
}

func (t *BrowserTool) closeLocked() {
	if t.tabStop != nil {
		t.tabStop()
		t.tabStop = nil
		t.tabCtx = nil
	}
	if t.allocStop != nil {
		t.allocStop()
		t.allocStop = nil
		t.allocCtx = nil
	}
}
