package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// emailRunner polls an IMAP INBOX for unseen messages, filters by sender and
// subject substrings, and advances a last-seen UID watermark so a message
// fires at most once. The watermark is written back into the trigger's
// persisted config so it survives restarts.
type emailRunner struct {
	trigger       *Trigger
	host          string
	user          string
	password      string
	fromFilter    string
	subjFilter    string
	interval      time.Duration
	fire          func(*Trigger, map[string]any)
	saveWatermark func(uid uint32)
	lastUID       uint32
}

func newEmailRunner(t *Trigger, fire func(*Trigger, map[string]any), saveWatermark func(uint32)) (*emailRunner, error) {
	host := t.ConfigString("host")
	if !strings.Contains(host, ":") {
		host += ":993"
	}
	return &emailRunner{
		trigger:       t,
		host:          host,
		user:          t.ConfigString("user"),
		password:      t.ConfigString("password"),
		fromFilter:    strings.ToLower(t.ConfigString("from")),
		subjFilter:    strings.ToLower(t.ConfigString("subject")),
		interval:      time.Duration(t.ConfigInt("intervalMinutes", 5)) * time.Minute,
		fire:          fire,
		saveWatermark: saveWatermark,
		lastUID:       uint32(t.ConfigInt("lastSeenUid", 0)),
	}, nil
}

func (r *emailRunner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.poll(); err != nil {
				slog.Warn("Email poll failed", "trigger", r.trigger.Name, "error", err)
			}
		}
	}
}

func (r *emailRunner) poll() error {
	c, err := client.DialTLS(r.host, nil)
	if err != nil {
		return fmt.Errorf("imap dial: %w", err)
	}
	defer c.Logout()

	if err := c.Login(r.user, r.password); err != nil {
		return fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select("INBOX", true); err != nil {
		return fmt.Errorf("imap select: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return fmt.Errorf("imap search: %w", err)
	}

	var fresh []uint32
	for _, uid := range uids {
		if uid > r.lastUID {
			fresh = append(fresh, uid)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(fresh...)
	messages := make(chan *imap.Message, len(fresh))
	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- c.UidFetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid}, messages)
	}()

	maxUID := r.lastUID
	for msg := range messages {
		if msg.Uid > maxUID {
			maxUID = msg.Uid
		}
		if msg.Envelope == nil {
			continue
		}
		from := ""
		if len(msg.Envelope.From) > 0 {
			from = msg.Envelope.From[0].Address()
		}
		if r.fromFilter != "" && !strings.Contains(strings.ToLower(from), r.fromFilter) {
			continue
		}
		if r.subjFilter != "" && !strings.Contains(strings.ToLower(msg.Envelope.Subject), r.subjFilter) {
			continue
		}
		r.fire(r.trigger, map[string]any{
			"uid":     msg.Uid,
			"from":    from,
			"subject": msg.Envelope.Subject,
			"date":    msg.Envelope.Date.Format(time.RFC3339),
		})
	}
	if err := <-fetchDone; err != nil {
		return fmt.Errorf("imap fetch: %w", err)
	}
	if maxUID > r.lastUID {
		r.lastUID = maxUID
		if r.saveWatermark != nil {
			r.saveWatermark(maxUID)
		}
	}
	return nil
}
