package approval

import (
	"testing"
	"time"

	"github.com/kodokalabs/tetsuo/internal/bus"
)

func newTestBroker(t *testing.T, dir string) *Broker {
	t.Helper()
	b, err := NewBroker(dir, bus.NewEventStream())
	if err != nil {
		t.Fatalf("NewBroker: %v", err)
	}
	return b
}

func request(t *testing.T, b *Broker) (*Request, <-chan bool) {
	t.Helper()
	req, future, err := b.RequestApproval(RequestParams{
		Description: "send the report",
		Action:      ProposedAction{Tool: "email_send", Input: map[string]any{"to": "a@b.c"}},
		Risk:        "high",
		Channel:     "telegram",
		UserID:      "user-1",
	})
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	return req, future
}

func TestApproveWakesFuture(t *testing.T) {
	b := newTestBroker(t, t.TempDir())
	req, future := request(t, b)

	go func() {
		time.Sleep(10 * time.Millisecond)
		if _, err := b.Resolve(req.ID, true, "user-1"); err != nil {
			t.Errorf("resolve failed: %v", err)
		}
	}()

	select {
	case ok := <-future:
		if !ok {
			t.Fatal("expected approval")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("future never resolved")
	}
}

func TestRejectWakesFuture(t *testing.T) {
	b := newTestBroker(t, t.TempDir())
	req, future := request(t, b)

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Resolve(req.ID, false, "user-1")
	}()

	select {
	case ok := <-future:
		if ok {
			t.Fatal("expected rejection")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("future never resolved")
	}
}

func TestExpiryYieldsFalse(t *testing.T) {
	b := newTestBroker(t, t.TempDir())
	b.SetTimeout(30 * time.Millisecond)
	req, future := request(t, b)

	select {
	case ok := <-future:
		if ok {
			t.Fatal("expired approval should yield false")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expiry never fired")
	}

	got, err := b.Resolve(req.ID, true, "late")
	if err == nil {
		t.Fatalf("resolution after expiry should fail, got %+v", got)
	}
}

func TestResolutionIsTerminal(t *testing.T) {
	b := newTestBroker(t, t.TempDir())
	req, _ := request(t, b)

	if _, err := b.Resolve(req.ID, true, "user-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Resolve(req.ID, false, "user-2"); err == nil {
		t.Fatal("second resolution should fail")
	}
}

func TestResolveByPrefix(t *testing.T) {
	b := newTestBroker(t, t.TempDir())
	req, future := request(t, b)

	resolved, err := b.ResolveByPrefix(req.ID[:8], true, "user-1")
	if err != nil {
		t.Fatalf("ResolveByPrefix: %v", err)
	}
	if resolved.ID != req.ID || resolved.Status != StatusApproved {
		t.Fatalf("got %+v", resolved)
	}
	if resolved.ResolvedBy != "user-1" {
		t.Fatalf("resolver identity lost: %q", resolved.ResolvedBy)
	}
	if ok := <-future; !ok {
		t.Fatal("future should be approved")
	}

	if _, err := b.ResolveByPrefix("ffffffff", true, "x"); err == nil {
		t.Fatal("unknown prefix should fail")
	}
}

func TestStalePendingExpiresOnRestart(t *testing.T) {
	dir := t.TempDir()
	b := newTestBroker(t, dir)
	b.SetTimeout(-time.Minute) // already past expiry when persisted
	req, _ := request(t, b)
	b.Close()

	b2 := newTestBroker(t, dir)
	defer b2.Close()
	for _, got := range b2.All() {
		if got.ID == req.ID && got.Status != StatusExpired {
			t.Fatalf("stale pending approval should be expired, got %s", got.Status)
		}
	}
	if len(b2.Pending("")) != 0 {
		t.Fatal("no approvals should be pending after restart")
	}
}
