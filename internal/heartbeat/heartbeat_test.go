package heartbeat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kodokalabs/tetsuo/internal/bus"
)

func TestTickPublishesUncheckedItems(t *testing.T) {
	dir := t.TempDir()
	d := bus.NewDispatcher()
	svc := New(dir, 30, "", d, bus.NewEventStream())

	checklist := strings.Join([]string{
		"# Heartbeat",
		"- [x] already done",
		"- [ ] water the plants",
		"- [ ] check the backups",
		"",
	}, "\n")
	if err := svc.Edit(checklist); err != nil {
		t.Fatal(err)
	}

	got := make(chan *bus.InboundMessage, 1)
	d.SetHandler(func(ctx context.Context, msg *bus.InboundMessage) {
		got <- msg
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	svc.Tick()

	var msg *bus.InboundMessage
	select {
	case msg = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat message dispatched")
	}
	if msg.Mode != bus.ModeHeartbeat {
		t.Fatalf("mode = %s", msg.Mode)
	}
	if !strings.Contains(msg.Content, "water the plants") || !strings.Contains(msg.Content, "check the backups") {
		t.Fatalf("content = %q", msg.Content)
	}
	if strings.Contains(msg.Content, "already done") {
		t.Fatal("checked items must not be included")
	}
	if !strings.Contains(msg.Content, OKMarker) {
		t.Fatal("prompt must name the OK marker")
	}
}

func TestTickQuietWhenAllChecked(t *testing.T) {
	dir := t.TempDir()
	d := bus.NewDispatcher()
	svc := New(dir, 30, "", d, bus.NewEventStream())

	if err := svc.Edit("- [x] everything done\n"); err != nil {
		t.Fatal(err)
	}
	svc.Tick()
	if d.Backlog() != 0 {
		t.Fatal("no message should be queued when nothing is unchecked")
	}
}

func TestTickQuietWithoutChecklist(t *testing.T) {
	d := bus.NewDispatcher()
	svc := New(t.TempDir(), 30, "", d, bus.NewEventStream())
	svc.Tick()
	if d.Backlog() != 0 {
		t.Fatal("missing checklist should be silent")
	}
}

func TestUncheckedItems(t *testing.T) {
	svc := New(t.TempDir(), 30, "", bus.NewDispatcher(), bus.NewEventStream())
	if err := svc.Edit("- [ ] a\n- [x] b\nplain text\n- [ ] c\n"); err != nil {
		t.Fatal(err)
	}
	items := svc.UncheckedItems()
	if len(items) != 2 || items[0] != "a" || items[1] != "c" {
		t.Fatalf("items = %v", items)
	}
}
