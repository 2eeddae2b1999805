package triggers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const calendarFetchTimeout = 15 * time.Second

// CalendarEvent is one VEVENT extracted from an iCal feed.
type CalendarEvent struct {
	Start       time.Time
	End         time.Time
	Summary     string
	Description string
}

// calendarRunner polls an iCal URL and fires for events starting within the
// next polling window.
type calendarRunner struct {
	trigger  *Trigger
	url      string
	interval time.Duration
	client   *http.Client
	fire     func(*Trigger, map[string]any)
	lastPoll time.Time
}

func newCalendarRunner(t *Trigger, fire func(*Trigger, map[string]any)) (*calendarRunner, error) {
	interval := time.Duration(t.ConfigInt("intervalMinutes", 15)) * time.Minute
	return &calendarRunner{
		trigger:  t,
		url:      t.ConfigString("url"),
		interval: interval,
		client:   &http.Client{Timeout: calendarFetchTimeout},
		fire:     fire,
		lastPoll: time.Now(),
	}, nil
}

func (r *calendarRunner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			r.poll(ctx, now)
		}
	}
}

func (r *calendarRunner) poll(ctx context.Context, now time.Time) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return
	}

	windowEnd := now.Add(r.interval)
	for _, ev := range ParseICal(string(body)) {
		// Fire for events starting after the previous poll and no later than
		// the end of the upcoming window. An event that starts between the
		// previous poll and this one was also inside the previous poll's
		// window, so it is announced by both polls.
		if ev.Start.After(r.lastPoll) && !ev.Start.After(windowEnd) {
			r.fire(r.trigger, map[string]any{
				"summary":     ev.Summary,
				"description": ev.Description,
				"start":       ev.Start.Format(time.RFC3339),
				"end":         ev.End.Format(time.RFC3339),
			})
		}
	}
	r.lastPoll = now
}

// ParseICal extracts VEVENT blocks with a minimal extractor for
// DTSTART/DTEND/SUMMARY/DESCRIPTION. Folded lines (RFC 5545 continuation)
// are unfolded first.
func ParseICal(raw string) []CalendarEvent {
	lines := unfoldICalLines(raw)

	var events []CalendarEvent
	var cur *CalendarEvent
	for _, line := range lines {
		switch {
		case line == "BEGIN:VEVENT":
			cur = &CalendarEvent{}
		case line == "END:VEVENT":
			if cur != nil && !cur.Start.IsZero() {
				events = append(events, *cur)
			}
			cur = nil
		case cur != nil:
			key, value, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			// Strip property parameters: DTSTART;TZID=… → DTSTART.
			if idx := strings.IndexByte(key, ';'); idx >= 0 {
				key = key[:idx]
			}
			switch key {
			case "DTSTART":
				if ts, err := parseICalTime(value); err == nil {
					cur.Start = ts
				}
			case "DTEND":
				if ts, err := parseICalTime(value); err == nil {
					cur.End = ts
				}
			case "SUMMARY":
				cur.Summary = unescapeICalText(value)
			case "DESCRIPTION":
				cur.Description = unescapeICalText(value)
			}
		}
	}
	return events
}

func unfoldICalLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(out) > 0 {
			out[len(out)-1] += strings.TrimLeft(line, " \t")
			continue
		}
		out = append(out, strings.TrimRight(line, "\r"))
	}
	return out
}

func parseICalTime(value string) (time.Time, error) {
	for _, layout := range []string{
		"20060102T150405Z",
		"20060102T150405",
		"20060102",
	} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized iCal time %q", value)
}

func unescapeICalText(value string) string {
	replacer := strings.NewReplacer(`\n`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)
	return replacer.Replace(value)
}
