package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/kodokalabs/tetsuo/internal/guard"
	"github.com/kodokalabs/tetsuo/internal/settings"
)

// EmailReadTool lists the newest unseen INBOX messages over IMAP.
type EmailReadTool struct {
	Settings func() settings.RuntimeSettings
}

func (t *EmailReadTool) Name() string     { return "email_read" }
func (t *EmailReadTool) Risk() string     { return RiskMedium }
func (t *EmailReadTool) Category() string { return "integration" }

func (t *EmailReadTool) Description() string {
	return "List the newest unseen messages in the configured IMAP inbox."
}

func (t *EmailReadTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum messages to list (default 10)",
			},
		},
	}
}

func (t *EmailReadTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	cfg := t.Settings()
	if !integrationsEnabled(cfg) {
		return "Error: integrations are disabled in settings", nil
	}
	ic := cfg.Integrations
	if ic.IMAPHost == "" || ic.IMAPUser == "" {
		return "", guard.Securityf("IMAP credentials are not configured")
	}
	limit := GetInt(params, "limit", 10)

	host := ic.IMAPHost
	if !strings.Contains(host, ":") {
		host += ":993"
	}
	c, err := client.DialTLS(host, nil)
	if err != nil {
		return fmt.Sprintf("Error connecting to IMAP: %v", err), nil
	}
	defer c.Logout()
	if err := c.Login(ic.IMAPUser, ic.IMAPPassword); err != nil {
		return fmt.Sprintf("Error logging in: %v", err), nil
	}
	if _, err := c.Select("INBOX", true); err != nil {
		return fmt.Sprintf("Error selecting INBOX: %v", err), nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return fmt.Sprintf("Error searching: %v", err), nil
	}
	if len(uids) == 0 {
		return "No unseen messages.", nil
	}
	if len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	messages := make(chan *imap.Message, len(uids))
	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- c.UidFetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid}, messages)
	}()

	var sb strings.Builder
	for msg := range messages {
		if msg.Envelope == nil {
			continue
		}
		from := ""
		if len(msg.Envelope.From) > 0 {
			from = msg.Envelope.From[0].Address()
		}
		fmt.Fprintf(&sb, "[%d] %s - %s (%s)\n",
			msg.Uid, from, msg.Envelope.Subject, msg.Envelope.Date.Format("2006-01-02 15:04"))
	}
	if err := <-fetchDone; err != nil {
		return fmt.Sprintf("Error fetching: %v", err), nil
	}

	out := strings.TrimRight(sb.String(), "\n")
	if cfg.Security.InjectionGuard {
		out = guard.WrapUntrusted("imap:INBOX", out)
	}
	return out, nil
}
