// Package heartbeat drives proactive agent behaviour from a markdown
// checklist. Every interval the checklist is read; unchecked items produce a
// synthetic heartbeat turn through the session loop.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kodokalabs/tetsuo/internal/bus"
)

// ChecklistFile is the heartbeat checklist under the workspace root.
const ChecklistFile = "HEARTBEAT.md"

// Prompt suffix the agent answers with when there is nothing to do; the
// session loop suppresses replies that are exactly this marker.
const OKMarker = "HEARTBEAT_OK"

// Service fires the heartbeat tick.
type Service struct {
	workspace string
	interval  time.Duration
	channel   string
	bus       *bus.Dispatcher
	events    *bus.EventStream
}

// New creates a heartbeat service.
func New(workspace string, intervalMinutes int, channel string, b *bus.Dispatcher, events *bus.EventStream) *Service {
	if intervalMinutes <= 0 {
		intervalMinutes = 30
	}
	return &Service{
		workspace: workspace,
		interval:  time.Duration(intervalMinutes) * time.Minute,
		channel:   channel,
		bus:       b,
		events:    events,
	}
}

// Run ticks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	slog.Info("Heartbeat started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Heartbeat stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick reads the checklist and publishes a heartbeat turn when any item is
// unchecked.
func (s *Service) Tick() {
	items := s.UncheckedItems()
	if len(items) == 0 {
		return
	}
	if s.events != nil {
		s.events.Publish(bus.EventHeartbeat, map[string]any{"items": len(items)})
	}

	channel := s.channel
	if channel == "" {
		channel = bus.SourceHeartbeat
	}
	var sb strings.Builder
	sb.WriteString("Heartbeat check. Review these outstanding checklist items and act on anything that needs doing now. ")
	fmt.Fprintf(&sb, "If nothing needs attention, respond with exactly %s.\n", OKMarker)
	for _, item := range items {
		fmt.Fprintf(&sb, "- [ ] %s\n", item)
	}

	s.bus.Enqueue(&bus.InboundMessage{
		Channel:  channel,
		SenderID: bus.SourceHeartbeat,
		Content:  sb.String(),
		Mode:     bus.ModeHeartbeat,
	})
}

// UncheckedItems parses the checklist for "- [ ]" entries.
func (s *Service) UncheckedItems() []string {
	data, err := os.ReadFile(s.checklistPath())
	if err != nil {
		return nil
	}
	var items []string
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- [ ]") {
			if item := strings.TrimSpace(trimmed[5:]); item != "" {
				items = append(items, item)
			}
		}
	}
	return items
}

// Edit rewrites the checklist content.
func (s *Service) Edit(content string) error {
	return os.WriteFile(s.checklistPath(), []byte(content), 0o644)
}

// Read returns the raw checklist content.
func (s *Service) Read() (string, error) {
	data, err := os.ReadFile(s.checklistPath())
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Service) checklistPath() string {
	return filepath.Join(s.workspace, ChecklistFile)
}
