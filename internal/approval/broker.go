// Package approval provides interactive approval gates for high-risk tool
// calls. A pending request blocks its worker turn until a human resolves it
// on any channel, the dashboard, or an in-process call.
package approval

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kodokalabs/tetsuo/internal/bus"
)

// Request statuses. All resolutions are terminal.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusExpired  = "expired"
)

// DefaultTimeout is the wall-clock expiry for a pending approval.
const DefaultTimeout = 30 * time.Minute

// ProposedAction describes the tool call awaiting approval.
type ProposedAction struct {
	Tool      string         `json:"tool"`
	Input     map[string]any `json:"input"`
	Reasoning string         `json:"reasoning,omitempty"`
}

// Request represents a pending approval for a tool call.
type Request struct {
	ID          string         `json:"id"`
	TaskID      string         `json:"taskId,omitempty"`
	Description string         `json:"description"`
	Action      ProposedAction `json:"action"`
	Risk        string         `json:"risk"`
	RiskReason  string         `json:"riskReason,omitempty"`
	Status      string         `json:"status"`
	Channel     string         `json:"channel,omitempty"`
	UserID      string         `json:"userId,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	ExpiresAt   time.Time      `json:"expiresAt"`
	ResolvedAt  *time.Time     `json:"resolvedAt,omitempty"`
	ResolvedBy  string         `json:"resolvedBy,omitempty"`
}

// Broker handles approval lifecycle: create, wait, resolve, expire.
type Broker struct {
	mu      sync.Mutex
	dir     string
	timeout time.Duration
	index   map[string]*Request
	waiters map[string]chan bool
	timers  map[string]*time.Timer
	events  *bus.EventStream
}

// NewBroker loads persisted approvals from <workspace>/approvals. Requests
// still pending past their expiry are marked expired; requests still inside
// their window are re-armed (a resuming worker observes rejection only when
// the window lapses).
func NewBroker(workspace string, events *bus.EventStream) (*Broker, error) {
	dir := filepath.Join(workspace, "approvals")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create approvals dir: %w", err)
	}
	b := &Broker{
		dir:     dir,
		timeout: DefaultTimeout,
		index:   make(map[string]*Request),
		waiters: make(map[string]chan bool),
		timers:  make(map[string]*time.Timer),
		events:  events,
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read approvals dir: %w", err)
	}
	now := time.Now()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			slog.Warn("Skipping corrupt approval file", "file", e.Name(), "error", err)
			continue
		}
		if req.Status == StatusPending && now.After(req.ExpiresAt) {
			req.Status = StatusExpired
			resolved := now
			req.ResolvedAt = &resolved
			_ = b.persist(&req)
		}
		b.index[req.ID] = &req
		if req.Status == StatusPending {
			b.armTimerLocked(&req)
		}
	}
	return b, nil
}

// SetTimeout overrides the expiry window (tests).
func (b *Broker) SetTimeout(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeout = d
}

// RequestParams are the caller-supplied fields for a new approval.
type RequestParams struct {
	TaskID      string
	Description string
	Action      ProposedAction
	Risk        string
	RiskReason  string
	Channel     string
	UserID      string
}

// RequestApproval creates a pending request and returns it together with a
// future that yields true on approval, false on rejection or expiry.
func (b *Broker) RequestApproval(p RequestParams) (*Request, <-chan bool, error) {
	now := time.Now()
	req := &Request{
		ID:          uuid.NewString(),
		TaskID:      p.TaskID,
		Description: p.Description,
		Action:      p.Action,
		Risk:        p.Risk,
		RiskReason:  p.RiskReason,
		Status:      StatusPending,
		Channel:     p.Channel,
		UserID:      p.UserID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(b.timeout),
	}

	b.mu.Lock()
	if err := b.persist(req); err != nil {
		b.mu.Unlock()
		return nil, nil, err
	}
	b.index[req.ID] = req
	ch := make(chan bool, 1)
	b.waiters[req.ID] = ch
	b.armTimerLocked(req)
	b.mu.Unlock()

	if b.events != nil {
		b.events.Publish(bus.EventApprovalRequested, map[string]any{
			"id":      req.ID,
			"tool":    req.Action.Tool,
			"risk":    req.Risk,
			"task_id": req.TaskID,
			"user_id": req.UserID,
			"channel": req.Channel,
		})
	}
	return cloneRequest(req), ch, nil
}

// Resolve marks a pending request approved or rejected and wakes its waiting
// future. Resolutions are idempotent: a second resolution is a no-op error.
func (b *Broker) Resolve(id string, approved bool, resolver string) (*Request, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.index[id]
	if !ok {
		return nil, fmt.Errorf("no approval with id %s", id)
	}
	if req.Status != StatusPending {
		return nil, fmt.Errorf("approval %s already %s", shortID(id), req.Status)
	}
	status := StatusRejected
	if approved {
		status = StatusApproved
	}
	b.settleLocked(req, status, resolver, approved)
	return cloneRequest(req), nil
}

// ResolveByPrefix resolves the unique pending request whose id starts with
// prefix (chat command surface).
func (b *Broker) ResolveByPrefix(prefix string, approved bool, resolver string) (*Request, error) {
	b.mu.Lock()
	var match *Request
	for id, req := range b.index {
		if req.Status == StatusPending && strings.HasPrefix(id, prefix) {
			if match != nil {
				b.mu.Unlock()
				return nil, fmt.Errorf("prefix %s is ambiguous", prefix)
			}
			match = req
		}
	}
	b.mu.Unlock()
	if match == nil {
		return nil, fmt.Errorf("no pending approval matches %s", prefix)
	}
	return b.Resolve(match.ID, approved, resolver)
}

// Pending returns pending requests, optionally filtered by user.
func (b *Broker) Pending(userID string) []*Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Request
	for _, req := range b.index {
		if req.Status != StatusPending {
			continue
		}
		if userID != "" && req.UserID != userID {
			continue
		}
		out = append(out, cloneRequest(req))
	}
	return out
}

// All returns every known request.
func (b *Broker) All() []*Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Request, 0, len(b.index))
	for _, req := range b.index {
		out = append(out, cloneRequest(req))
	}
	return out
}

// Close stops all expiry timers.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, timer := range b.timers {
		timer.Stop()
		delete(b.timers, id)
	}
}

// armTimerLocked starts the single-shot expiry timer for a pending request.
func (b *Broker) armTimerLocked(req *Request) {
	id := req.ID
	delay := time.Until(req.ExpiresAt)
	if delay < 0 {
		delay = 0
	}
	b.timers[id] = time.AfterFunc(delay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		req, ok := b.index[id]
		if !ok || req.Status != StatusPending {
			return
		}
		b.settleLocked(req, StatusExpired, "timeout", false)
	})
}

// settleLocked applies a terminal status, persists, wakes the waiter, and
// emits the resolution event.
func (b *Broker) settleLocked(req *Request, status, resolver string, approved bool) {
	req.Status = status
	now := time.Now()
	req.ResolvedAt = &now
	req.ResolvedBy = resolver
	if err := b.persist(req); err != nil {
		slog.Warn("Failed to persist approval resolution", "id", req.ID, "error", err)
	}

	if timer, ok := b.timers[req.ID]; ok {
		timer.Stop()
		delete(b.timers, req.ID)
	}
	if ch, ok := b.waiters[req.ID]; ok {
		select {
		case ch <- approved:
		default:
		}
		delete(b.waiters, req.ID)
	}

	if b.events != nil {
		b.events.Publish(bus.EventApprovalResolved, map[string]any{
			"id":       req.ID,
			"status":   status,
			"resolver": resolver,
		})
	}
}

func (b *Broker) persist(req *Request) error {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(b.dir, req.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write approval: %w", err)
	}
	return os.Rename(tmp, path)
}

func cloneRequest(req *Request) *Request {
	dup := *req
	return &dup
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
