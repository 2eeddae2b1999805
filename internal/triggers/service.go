package triggers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kodokalabs/tetsuo/internal/bus"
)

const payloadPreviewMax = 3000

// runner is one live trigger instance.
type runner interface {
	Run(ctx context.Context) error
}

// Service starts a runner per enabled trigger and routes fires onto the bus.
type Service struct {
	registry *Registry
	bus      *bus.Dispatcher
	events   *bus.EventStream
	webhook  *WebhookServer

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates the trigger service. The webhook server is shared by
// all webhook triggers.
func NewService(registry *Registry, b *bus.Dispatcher, events *bus.EventStream, webhook *WebhookServer) *Service {
	return &Service{registry: registry, bus: b, events: events, webhook: webhook}
}

// Start launches runners for every enabled trigger. Safe to call again after
// Stop (used when the trigger set changes).
func (s *Service) Start(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("trigger service already running")
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	for _, t := range s.registry.All() {
		if !t.Enabled {
			continue
		}
		r, err := s.buildRunner(t)
		if err != nil {
			slog.Warn("Trigger skipped", "trigger", t.Name, "error", err)
			continue
		}
		s.wg.Add(1)
		go func(name string) {
			defer s.wg.Done()
			if err := r.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Trigger runner stopped", "trigger", name, "error", err)
			}
		}(t.Name)
	}

	if s.webhook != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.webhook.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Webhook server stopped", "error", err)
			}
		}()
	}
	return nil
}

// Stop cancels all runners, closing watchers and schedulers.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Restart reloads runners after a registry change.
func (s *Service) Restart(parent context.Context) error {
	s.Stop()
	return s.Start(parent)
}

func (s *Service) buildRunner(t *Trigger) (runner, error) {
	switch t.Type {
	case TypeFileWatch:
		return newFileWatchRunner(t, s.fire)
	case TypeWebhook:
		return newWebhookRunner(t, s.webhook, s.fire)
	case TypeCron:
		return newCronRunner(t, s.fire)
	case TypeCalendar:
		return newCalendarRunner(t, s.fire)
	case TypeEmailWatch:
		return newEmailRunner(t, s.fire, func(uid uint32) {
			if err := s.registry.SetConfigValue(t.ID, "lastSeenUid", int(uid)); err != nil {
				slog.Warn("Failed to persist email watermark", "trigger", t.Name, "error", err)
			}
		})
	default:
		return nil, fmt.Errorf("unknown trigger type %q", t.Type)
	}
}

// fire records the firing, publishes the trigger-fired event, and injects a
// synthetic trigger-mode message into the session loop.
func (s *Service) fire(t *Trigger, payload map[string]any) {
	s.registry.RecordFire(t.ID)
	if s.events != nil {
		s.events.Publish(bus.EventTriggerFired, map[string]any{
			"id":   t.ID,
			"type": t.Type,
			"name": t.Name,
		})
	}

	preview := "{}"
	if raw, err := json.Marshal(payload); err == nil {
		preview = string(raw)
		if len(preview) > payloadPreviewMax {
			preview = preview[:payloadPreviewMax] + "…"
		}
	}

	channel := t.Action.Channel
	if channel == "" {
		channel = bus.SourceTrigger
	}
	userID := t.Action.UserID
	if userID == "" {
		userID = bus.SourceTrigger
	}

	content := fmt.Sprintf(
		"Trigger %q (%s) fired.\nConfigured action (%s): %s\nEvent payload: %s",
		t.Name, t.Type, t.Action.Kind, t.Action.Content, preview)

	s.bus.Enqueue(&bus.InboundMessage{
		Channel:  channel,
		SenderID: userID,
		Content:  content,
		Mode:     bus.ModeTrigger,
		Meta: map[string]any{
			"trigger_id":   t.ID,
			"trigger_type": t.Type,
			"action_kind":  t.Action.Kind,
		},
	})
}
