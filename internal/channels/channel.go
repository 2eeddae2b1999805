// Package channels defines the interface chat platforms (Telegram, Discord)
// implement to reach the agent. Concrete clients live outside the core.
package channels

import (
	"context"
	"log/slog"

	"github.com/kodokalabs/tetsuo/internal/bus"
)

// Channel is a chat platform connection.
type Channel interface {
	// Name returns the channel name (e.g. "telegram").
	Name() string
	// Start starts the channel listener; inbound messages go to the
	// dispatcher.
	Start(ctx context.Context) error
	// Stop stops the channel listener.
	Stop() error
	// Send delivers a message to a user on the platform.
	Send(ctx context.Context, msg *bus.OutboundMessage) error
}

// Manager wires channels into the dispatcher's sender table.
type Manager struct {
	bus      *bus.Dispatcher
	channels []Channel
}

// NewManager creates a channel manager.
func NewManager(b *bus.Dispatcher) *Manager {
	return &Manager{bus: b}
}

// Register installs a channel as the sender for its name.
func (m *Manager) Register(ch Channel) {
	m.channels = append(m.channels, ch)
	m.bus.RegisterSender(ch.Name(), func(msg *bus.OutboundMessage) {
		if err := ch.Send(context.Background(), msg); err != nil {
			slog.Warn("Channel send failed", "channel", ch.Name(), "error", err)
		}
	})
}

// StartAll starts every registered channel.
func (m *Manager) StartAll(ctx context.Context) {
	for _, ch := range m.channels {
		go func(ch Channel) {
			if err := ch.Start(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Channel stopped", "channel", ch.Name(), "error", err)
			}
		}(ch)
	}
}

// StopAll stops every registered channel.
func (m *Manager) StopAll() {
	for _, ch := range m.channels {
		if err := ch.Stop(); err != nil {
			slog.Warn("Channel stop failed", "channel", ch.Name(), "error", err)
		}
	}
}
