// Package bus connects the chat channels and the event plane to the session
// loop. Inbound messages queue through a Dispatcher that hands each one to
// the registered handler in its own goroutine; replies go straight back out
// through per-channel send functions, no intermediate queue.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Loop modes and synthetic source identities.
const (
	ModeChat        = "chat"
	ModeHeartbeat   = "heartbeat"
	ModeTrigger     = "trigger"
	SourceHeartbeat = "heartbeat"
	SourceTrigger   = "trigger"
)

// inboundQueueSize bounds the dispatcher backlog. Overflow drops the
// message; per-sender rate limits keep this from firing under normal load.
const inboundQueueSize = 128

// InboundMessage is a request for the session loop: a user chat message or
// a synthetic heartbeat/trigger turn.
type InboundMessage struct {
	Channel  string         `json:"channel"`
	SenderID string         `json:"sender_id"`
	Content  string         `json:"content"`
	Mode     string         `json:"mode,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
	Received time.Time      `json:"received"`
}

// OutboundMessage is a reply bound for a chat channel.
type OutboundMessage struct {
	Channel  string `json:"channel"`
	SenderID string `json:"sender_id"`
	TaskID   string `json:"task_id,omitempty"`
	Content  string `json:"content"`
}

// Handler processes one inbound message. The dispatcher invokes it
// concurrently, one goroutine per message.
type Handler func(ctx context.Context, msg *InboundMessage)

// SendFunc delivers an outbound message for one channel.
type SendFunc func(msg *OutboundMessage)

// Dispatcher owns inbound routing and outbound delivery.
type Dispatcher struct {
	queue   chan *InboundMessage
	mu      sync.RWMutex
	handler Handler
	senders map[string]SendFunc
	dropped atomic.Int64
}

// NewDispatcher creates a dispatcher with an empty sender table.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		queue:   make(chan *InboundMessage, inboundQueueSize),
		senders: make(map[string]SendFunc),
	}
}

// SetHandler installs the inbound handler. The session loop registers
// itself here; messages queued before that wait in the backlog.
func (d *Dispatcher) SetHandler(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

// RegisterSender installs the delivery function for one channel name.
func (d *Dispatcher) RegisterSender(channel string, send SendFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[channel] = send
}

// Enqueue queues an inbound message for the handler. A zero Mode defaults
// to chat. When the backlog is full the message is dropped and counted
// rather than blocking the producer.
func (d *Dispatcher) Enqueue(msg *InboundMessage) {
	if msg.Mode == "" {
		msg.Mode = ModeChat
	}
	if msg.Received.IsZero() {
		msg.Received = time.Now()
	}
	select {
	case d.queue <- msg:
	default:
		d.dropped.Add(1)
		slog.Warn("Inbound backlog full, dropping message", "channel", msg.Channel, "sender", msg.SenderID)
	}
}

// Send delivers a reply synchronously through the channel's registered
// sender. Replies for channels with no sender are logged and discarded
// (suppressed heartbeats and orchestrator-internal turns land here).
func (d *Dispatcher) Send(msg *OutboundMessage) {
	d.mu.RLock()
	send := d.senders[msg.Channel]
	d.mu.RUnlock()
	if send == nil {
		slog.Debug("No sender registered for channel, reply discarded", "channel", msg.Channel)
		return
	}
	send(msg)
}

// Run drains the backlog until the context is cancelled, handing each
// message to the handler in its own goroutine. In-flight handlers are
// awaited before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	var inflight sync.WaitGroup
	defer inflight.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-d.queue:
			d.mu.RLock()
			h := d.handler
			d.mu.RUnlock()
			if h == nil {
				d.dropped.Add(1)
				slog.Warn("No inbound handler installed, dropping message", "channel", msg.Channel)
				continue
			}
			inflight.Add(1)
			go func(msg *InboundMessage) {
				defer inflight.Done()
				h(ctx, msg)
			}(msg)
		}
	}
}

// Backlog reports queued messages not yet handed to the handler.
func (d *Dispatcher) Backlog() int {
	return len(d.queue)
}

// Dropped reports messages discarded because the backlog was full or no
// handler was installed.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}
