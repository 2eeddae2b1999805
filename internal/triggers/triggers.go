// Package triggers implements the event plane's trigger registry: file
// watches, webhooks, cron schedules, calendar polls, and inbox polls, all
// feeding the session loop through the message bus.
package triggers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kodokalabs/tetsuo/internal/guard"
	"github.com/robfig/cron/v3"
)

// Trigger types.
const (
	TypeFileWatch  = "file_watch"
	TypeWebhook    = "webhook"
	TypeCron       = "cron"
	TypeCalendar   = "calendar"
	TypeEmailWatch = "email_watch"
)

// Action kinds.
const (
	ActionMessage = "message"
	ActionTask    = "task"
)

// Action describes what happens when a trigger fires.
type Action struct {
	Kind    string `json:"kind"`
	Content string `json:"content"`
	Channel string `json:"channel,omitempty"`
	UserID  string `json:"userId,omitempty"`
}

// Trigger is one registered event source.
type Trigger struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Name          string         `json:"name"`
	Enabled       bool           `json:"enabled"`
	Config        map[string]any `json:"config"`
	Action        Action         `json:"action"`
	LastTriggered *time.Time     `json:"lastTriggered,omitempty"`
	FireCount     int            `json:"fireCount"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// ConfigString reads a string value from the opaque config map.
func (t *Trigger) ConfigString(key string) string {
	if v, ok := t.Config[key].(string); ok {
		return v
	}
	return ""
}

// ConfigInt reads an integer value from the opaque config map.
func (t *Trigger) ConfigInt(key string, def int) int {
	switch v := t.Config[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// Registry owns the trigger index, persisted as a whole-array rewrite of
// triggers.json.
type Registry struct {
	mu    sync.Mutex
	path  string
	items []*Trigger
}

// NewRegistry loads triggers.json from the workspace.
func NewRegistry(workspace string) (*Registry, error) {
	r := &Registry{path: filepath.Join(workspace, "triggers.json")}
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read triggers: %w", err)
	}
	if err := json.Unmarshal(data, &r.items); err != nil {
		return nil, fmt.Errorf("parse triggers: %w", err)
	}
	return r, nil
}

// Create validates and registers a trigger.
func (r *Registry) Create(t *Trigger) (*Trigger, error) {
	if err := validate(t); err != nil {
		return nil, err
	}
	t.ID = uuid.NewString()
	t.Enabled = true
	t.CreatedAt = time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, t)
	if err := r.persistLocked(); err != nil {
		r.items = r.items[:len(r.items)-1]
		return nil, err
	}
	return clone(t), nil
}

// Get returns a trigger by id.
func (r *Registry) Get(id string) (*Trigger, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.items {
		if t.ID == id {
			return clone(t), true
		}
	}
	return nil, false
}

// All returns every registered trigger.
func (r *Registry) All() []*Trigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Trigger, len(r.items))
	for i, t := range r.items {
		out[i] = clone(t)
	}
	return out
}

// Toggle flips a trigger's enabled flag and returns the new state.
func (r *Registry) Toggle(id string) (*Trigger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.items {
		if t.ID == id {
			t.Enabled = !t.Enabled
			if err := r.persistLocked(); err != nil {
				return nil, err
			}
			return clone(t), nil
		}
	}
	return nil, fmt.Errorf("trigger not found: %s", id)
}

// Delete removes a trigger.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.items {
		if t.ID == id {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return r.persistLocked()
		}
	}
	return fmt.Errorf("trigger not found: %s", id)
}

// SetConfigValue updates one key of a trigger's opaque config and persists
// the whole array. Runners use this for durable per-trigger state such as
// the email last-seen UID watermark.
func (r *Registry) SetConfigValue(id, key string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.items {
		if t.ID == id {
			if t.Config == nil {
				t.Config = map[string]any{}
			}
			t.Config[key] = value
			return r.persistLocked()
		}
	}
	return fmt.Errorf("trigger not found: %s", id)
}

// RecordFire increments the counter, stamps lastTriggered, and persists.
func (r *Registry) RecordFire(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.items {
		if t.ID == id {
			now := time.Now()
			t.LastTriggered = &now
			t.FireCount++
			_ = r.persistLocked()
			return
		}
	}
}

func (r *Registry) persistLocked() error {
	data, err := json.MarshalIndent(r.items, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write triggers: %w", err)
	}
	return os.Rename(tmp, r.path)
}

func validate(t *Trigger) error {
	if t.Name == "" {
		return guard.Validationf("trigger name is required")
	}
	switch t.Action.Kind {
	case ActionMessage, ActionTask:
	default:
		return guard.Validationf("invalid action kind %q", t.Action.Kind)
	}
	switch t.Type {
	case TypeFileWatch:
		if t.ConfigString("path") == "" {
			return guard.Validationf("file_watch requires config.path")
		}
	case TypeWebhook:
		if t.ConfigString("path") == "" {
			return guard.Validationf("webhook requires config.path")
		}
	case TypeCron:
		expr := t.ConfigString("schedule")
		if _, err := cron.ParseStandard(expr); err != nil {
			return guard.Validationf("invalid cron expression %q: %v", expr, err)
		}
	case TypeCalendar:
		if t.ConfigString("url") == "" {
			return guard.Validationf("calendar requires config.url")
		}
	case TypeEmailWatch:
		if t.ConfigString("host") == "" {
			return guard.Validationf("email_watch requires config.host")
		}
	default:
		return guard.Validationf("unknown trigger type %q", t.Type)
	}
	return nil
}

func clone(t *Trigger) *Trigger {
	dup := *t
	return &dup
}
