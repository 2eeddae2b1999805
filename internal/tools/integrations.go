package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"github.com/kodokalabs/tetsuo/internal/guard"
	"github.com/kodokalabs/tetsuo/internal/settings"
)

const integrationTimeout = 15 * time.Second

// integrationClient is shared by the outbound integration tools.
var integrationClient = &http.Client{Timeout: integrationTimeout}

// integrationsEnabled checks the runtime permission flag.
func integrationsEnabled(cfg settings.RuntimeSettings) bool {
	return cfg.Tools.Integrations
}

// EmailSendTool sends mail through the configured SMTP account.
type EmailSendTool struct {
	Settings func() settings.RuntimeSettings
}

func (t *EmailSendTool) Name() string     { return "email_send" }
func (t *EmailSendTool) Risk() string     { return RiskHigh }
func (t *EmailSendTool) Category() string { return "integration" }

func (t *EmailSendTool) Description() string {
	return "Send an email through the configured SMTP account."
}

func (t *EmailSendTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to":      map[string]any{"type": "string"},
			"subject": map[string]any{"type": "string"},
			"body":    map[string]any{"type": "string"},
		},
		"required": []string{"to", "subject", "body"},
	}
}

func (t *EmailSendTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	cfg := t.Settings()
	if !integrationsEnabled(cfg) {
		return "Error: integrations are disabled in settings", nil
	}
	ic := cfg.Integrations
	if ic.SMTPHost == "" || ic.SMTPUser == "" {
		return "", guard.Securityf("SMTP credentials are not configured")
	}

	to := GetString(params, "to", "")
	if _, err := mail.ParseAddress(to); err != nil {
		return "", guard.Validationf("invalid recipient address %q", to)
	}
	subject := GetString(params, "subject", "")
	body := GetString(params, "body", "")

	port := ic.SMTPPort
	if port == 0 {
		port = 587
	}
	addr := fmt.Sprintf("%s:%d", ic.SMTPHost, port)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", ic.SMTPUser, to, subject, body)
	auth := smtp.PlainAuth("", ic.SMTPUser, ic.SMTPPassword, ic.SMTPHost)
	if err := smtp.SendMail(addr, auth, ic.SMTPUser, []string{to}, []byte(msg)); err != nil {
		return fmt.Sprintf("Error sending mail: %v", err), nil
	}
	return fmt.Sprintf("Sent email to %s", to), nil
}

// GitHubTool queries the GitHub REST API with the configured token.
type GitHubTool struct {
	Settings func() settings.RuntimeSettings
}

func (t *GitHubTool) Name() string     { return "github_api" }
func (t *GitHubTool) Risk() string     { return RiskMedium }
func (t *GitHubTool) Category() string { return "integration" }

func (t *GitHubTool) Description() string {
	return "Query the GitHub REST API (GET only), e.g. repos/{owner}/{repo}/issues."
}

func (t *GitHubTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "API path under api.github.com",
			},
		},
		"required": []string{"path"},
	}
}

func (t *GitHubTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	cfg := t.Settings()
	if !integrationsEnabled(cfg) {
		return "Error: integrations are disabled in settings", nil
	}
	if cfg.Integrations.GitHubToken == "" {
		return "", guard.Securityf("GitHub token is not configured")
	}
	path := strings.TrimPrefix(GetString(params, "path", ""), "/")
	if path == "" {
		return "Error: path is required", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.github.com/"+path, nil)
	if err != nil {
		return "", guard.Validationf("invalid path: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.Integrations.GitHubToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	body, status, err := doIntegration(req)
	if err != nil {
		return fmt.Sprintf("Error calling GitHub: %v", err), nil
	}
	if status >= 400 {
		return fmt.Sprintf("GitHub returned %d: %s", status, body), nil
	}
	if cfg.Security.InjectionGuard {
		body = guard.WrapUntrusted("github:"+path, body)
	}
	return body, nil
}

// MastodonPostTool publishes a status to the configured Mastodon account.
type MastodonPostTool struct {
	Settings func() settings.RuntimeSettings
}

func (t *MastodonPostTool) Name() string     { return "mastodon_post" }
func (t *MastodonPostTool) Risk() string     { return RiskHigh }
func (t *MastodonPostTool) Category() string { return "integration" }

func (t *MastodonPostTool) Description() string {
	return "Publish a status to the configured Mastodon account."
}

func (t *MastodonPostTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{"type": "string"},
		},
		"required": []string{"status"},
	}
}

func (t *MastodonPostTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	cfg := t.Settings()
	if !integrationsEnabled(cfg) {
		return "Error: integrations are disabled in settings", nil
	}
	ic := cfg.Integrations
	if ic.MastodonServer == "" || ic.MastodonToken == "" {
		return "", guard.Securityf("Mastodon credentials are not configured")
	}
	status := GetString(params, "status", "")
	if strings.TrimSpace(status) == "" {
		return "Error: status is required", nil
	}

	form := url.Values{"status": {status}}
	endpoint := strings.TrimSuffix(ic.MastodonServer, "/") + "/api/v1/statuses"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", guard.Validationf("invalid server URL: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+ic.MastodonToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, statusCode, err := doIntegration(req)
	if err != nil {
		return fmt.Sprintf("Error posting to Mastodon: %v", err), nil
	}
	if statusCode >= 400 {
		return fmt.Sprintf("Mastodon returned %d: %s", statusCode, body), nil
	}
	var posted struct {
		URL string `json:"url"`
	}
	_ = json.Unmarshal([]byte(body), &posted)
	return fmt.Sprintf("Posted to Mastodon: %s", posted.URL), nil
}

// RedditReadTool reads a subreddit's newest posts.
type RedditReadTool struct {
	Settings func() settings.RuntimeSettings
}

func (t *RedditReadTool) Name() string     { return "reddit_read" }
func (t *RedditReadTool) Risk() string     { return RiskLow }
func (t *RedditReadTool) Category() string { return "integration" }

func (t *RedditReadTool) Description() string {
	return "Read the newest posts of a subreddit."
}

func (t *RedditReadTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"subreddit": map[string]any{"type": "string"},
			"limit":     map[string]any{"type": "integer"},
		},
		"required": []string{"subreddit"},
	}
}

func (t *RedditReadTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	cfg := t.Settings()
	if !integrationsEnabled(cfg) {
		return "Error: integrations are disabled in settings", nil
	}
	sub := strings.Trim(GetString(params, "subreddit", ""), "/")
	limit := GetInt(params, "limit", 10)
	endpoint := fmt.Sprintf("https://www.reddit.com/r/%s/new.json?limit=%d", url.PathEscape(sub), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", guard.Validationf("invalid subreddit: %v", err)
	}
	req.Header.Set("User-Agent", "tetsuo-agent/1.0")

	body, status, err := doIntegration(req)
	if err != nil {
		return fmt.Sprintf("Error reading Reddit: %v", err), nil
	}
	if status >= 400 {
		return fmt.Sprintf("Reddit returned %d", status), nil
	}
	if cfg.Security.InjectionGuard {
		body = guard.WrapUntrusted("reddit:r/"+sub, body)
	}
	return body, nil
}

// RedditPostTool submits a link or self post through the Reddit API using
// the script-app password grant.
type RedditPostTool struct {
	Settings func() settings.RuntimeSettings
}

func (t *RedditPostTool) Name() string     { return "reddit_post" }
func (t *RedditPostTool) Risk() string     { return RiskHigh }
func (t *RedditPostTool) Category() string { return "integration" }

func (t *RedditPostTool) Description() string {
	return "Submit a self post to a subreddit with the configured Reddit account."
}

func (t *RedditPostTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"subreddit": map[string]any{"type": "string"},
			"title":     map[string]any{"type": "string"},
			"text":      map[string]any{"type": "string"},
		},
		"required": []string{"subreddit", "title"},
	}
}

func (t *RedditPostTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	cfg := t.Settings()
	if !integrationsEnabled(cfg) {
		return "Error: integrations are disabled in settings", nil
	}
	ic := cfg.Integrations
	if ic.RedditClientID == "" || ic.RedditUser == "" {
		return "", guard.Securityf("Reddit credentials are not configured")
	}

	accessToken, err := t.redditToken(ctx, ic)
	if err != nil {
		return fmt.Sprintf("Error authenticating with Reddit: %v", err), nil
	}

	form := url.Values{
		"sr":    {strings.Trim(GetString(params, "subreddit", ""), "/")},
		"kind":  {"self"},
		"title": {GetString(params, "title", "")},
		"text":  {GetString(params, "text", "")},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://oauth.reddit.com/api/submit", strings.NewReader(form.Encode()))
	if err != nil {
		return "", guard.Validationf("invalid submit request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "tetsuo-agent/1.0")

	body, status, err := doIntegration(req)
	if err != nil {
		return fmt.Sprintf("Error posting to Reddit: %v", err), nil
	}
	if status >= 400 {
		return fmt.Sprintf("Reddit returned %d: %s", status, body), nil
	}
	return fmt.Sprintf("Posted to r/%s", form.Get("sr")), nil
}

func (t *RedditPostTool) redditToken(ctx context.Context, ic settings.IntegrationSettings) (string, error) {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {ic.RedditUser},
		"password":   {ic.RedditPassword},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://www.reddit.com/api/v1/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(ic.RedditClientID, ic.RedditSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "tetsuo-agent/1.0")

	body, status, err := doIntegration(req)
	if err != nil {
		return "", err
	}
	if status >= 400 {
		return "", fmt.Errorf("token endpoint returned %d", status)
	}
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal([]byte(body), &tok); err != nil || tok.AccessToken == "" {
		return "", fmt.Errorf("no access token in response")
	}
	return tok.AccessToken, nil
}

func doIntegration(req *http.Request) (string, int, error) {
	resp, err := integrationClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(body), resp.StatusCode, nil
}
