package bus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestDispatcherHandsMessagesToHandler(t *testing.T) {
	d := NewDispatcher()
	got := make(chan *InboundMessage, 2)
	d.SetHandler(func(ctx context.Context, msg *InboundMessage) {
		got <- msg
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Enqueue(&InboundMessage{Channel: "telegram", SenderID: "u1", Content: "hi"})

	select {
	case msg := <-got:
		if msg.Mode != ModeChat {
			t.Fatalf("zero mode should default to chat, got %q", msg.Mode)
		}
		if msg.Received.IsZero() {
			t.Fatal("received timestamp should be stamped")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never reached the handler")
	}
}

func TestDispatcherDropsOnFullBacklog(t *testing.T) {
	d := NewDispatcher()
	// No Run and no handler: everything stays queued.
	for i := 0; i < inboundQueueSize+5; i++ {
		d.Enqueue(&InboundMessage{Channel: "c", Content: "x"})
	}
	if d.Backlog() != inboundQueueSize {
		t.Fatalf("backlog = %d, want %d", d.Backlog(), inboundQueueSize)
	}
	if d.Dropped() != 5 {
		t.Fatalf("dropped = %d, want 5", d.Dropped())
	}
}

func TestSendRoutesByChannel(t *testing.T) {
	d := NewDispatcher()
	var mu sync.Mutex
	var delivered []string
	d.RegisterSender("telegram", func(msg *OutboundMessage) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, msg.Content)
	})

	d.Send(&OutboundMessage{Channel: "telegram", Content: "routed"})
	d.Send(&OutboundMessage{Channel: "discord", Content: "no sender, discarded"})

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 || delivered[0] != "routed" {
		t.Fatalf("delivered = %v", delivered)
	}
}

func TestRunAwaitsInflightHandlers(t *testing.T) {
	d := NewDispatcher()
	started := make(chan struct{})
	finished := make(chan struct{})
	d.SetHandler(func(ctx context.Context, msg *InboundMessage) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		close(finished)
	})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(runDone)
	}()

	d.Enqueue(&InboundMessage{Channel: "c", Content: "slow"})
	<-started
	cancel()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run never returned after cancel")
	}
	select {
	case <-finished:
	default:
		t.Fatal("Run returned before the in-flight handler finished")
	}
}
