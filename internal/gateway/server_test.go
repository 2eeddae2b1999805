package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kodokalabs/tetsuo/internal/approval"
	"github.com/kodokalabs/tetsuo/internal/bus"
	"github.com/kodokalabs/tetsuo/internal/costs"
	"github.com/kodokalabs/tetsuo/internal/guard"
	"github.com/kodokalabs/tetsuo/internal/memory"
	"github.com/kodokalabs/tetsuo/internal/orchestrator"
	"github.com/kodokalabs/tetsuo/internal/settings"
	"github.com/kodokalabs/tetsuo/internal/tasks"
	"github.com/kodokalabs/tetsuo/internal/triggers"
)

const testToken = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func newTestServer(t *testing.T) (*Server, http.Handler, *tasks.Store) {
	t.Helper()
	dir := t.TempDir()

	settingsStore, err := settings.Load(dir, testToken)
	if err != nil {
		t.Fatal(err)
	}
	taskStore, err := tasks.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	broker, err := approval.NewBroker(dir, bus.NewEventStream())
	if err != nil {
		t.Fatal(err)
	}
	tracker, err := costs.NewTracker(dir)
	if err != nil {
		t.Fatal(err)
	}
	triggerRegistry, err := triggers.NewRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	audit, err := guard.NewAuditLog(dir, true)
	if err != nil {
		t.Fatal(err)
	}
	mem, err := memory.NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	srv := New(Options{
		Host:      "127.0.0.1",
		Port:      0,
		Token:     testToken,
		AgentName: "Tetsuo",
		Settings:  settingsStore,
		Tasks:     taskStore,
		Approvals: broker,
		Costs:     tracker,
		Triggers:  triggerRegistry,
		Agents:    orchestrator.NewAgentRegistry(),
		Router:    orchestrator.NewRouter(nil),
		Audit:     audit,
		Memory:    mem,
		Events:    bus.NewEventStream(),
		Limiter:   guard.NewRateLimiter(),
	})
	mux := http.NewServeMux()
	srv.routes(mux)
	return srv, srv.wrap(mux), taskStore
}

func get(h http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthNeedsNoAuth(t *testing.T) {
	_, h, _ := newTestServer(t)
	w := get(h, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["name"] != "Tetsuo" {
		t.Fatalf("health body = %v", body)
	}
}

func TestAuthRequired(t *testing.T) {
	_, h, _ := newTestServer(t)

	if w := get(h, "/status", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", w.Code)
	}
	wrong := testToken[:63] + "0"
	if w := get(h, "/status", wrong); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", w.Code)
	}
	if w := get(h, "/status", testToken); w.Code != http.StatusOK {
		t.Fatalf("correct token status = %d", w.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	_, h, _ := newTestServer(t)
	w := get(h, "/health", "")
	if w.Header().Get("X-Content-Type-Options") != "nosniff" ||
		w.Header().Get("X-Frame-Options") != "DENY" ||
		w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("security headers missing: %v", w.Header())
	}
}

func TestUnknownPath404(t *testing.T) {
	_, h, _ := newTestServer(t)
	if w := get(h, "/admin/api/nope", testToken); w.Code != http.StatusNotFound {
		t.Fatalf("unknown path status = %d", w.Code)
	}
}

func TestTasksEndpoint(t *testing.T) {
	_, h, store := newTestServer(t)
	task, err := store.Create(tasks.CreateParams{Title: "visible"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpdateStatus(task.ID, tasks.StatusPaused, tasks.UpdateOpts{}); err != nil {
		t.Fatal(err)
	}

	w := get(h, "/admin/api/tasks?status=paused", testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("tasks status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), task.ID) {
		t.Fatalf("paused task missing from listing: %s", w.Body.String())
	}

	w = get(h, "/admin/api/tasks/"+task.ID, testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("task by id status = %d", w.Code)
	}
}

func TestTaskActionEndpoint(t *testing.T) {
	_, h, store := newTestServer(t)
	task, _ := store.Create(tasks.CreateParams{Title: "cancel me"})

	req := httptest.NewRequest("POST", "/admin/api/tasks/"+task.ID+"/action",
		strings.NewReader(`{"action":"cancel"}`))
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("action status = %d: %s", w.Code, w.Body.String())
	}
	got, _ := store.Get(task.ID)
	if got.Status != tasks.StatusCancelled {
		t.Fatalf("task status = %s", got.Status)
	}
}

func TestSettingsConfirmFlow(t *testing.T) {
	_, h, _ := newTestServer(t)

	// Patch with a dangerous value and no confirmation: withheld.
	req := httptest.NewRequest("POST", "/admin/api/settings",
		strings.NewReader(`{"patch":{"security":{"auditLog":false}}}`))
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("settings patch status = %d", w.Code)
	}
	var resp struct {
		RequiresConfirmation []settings.PendingConfirmation `json:"requiresConfirmation"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.RequiresConfirmation) != 1 {
		t.Fatalf("expected one pending confirmation, got %+v", resp.RequiresConfirmation)
	}

	// Replay with the returned token: applied.
	pending := resp.RequiresConfirmation[0]
	body := `{"patch":{"security":{"auditLog":false}},"confirmations":{"` +
		pending.Key + `":"` + pending.Confirm + `"}}`
	req = httptest.NewRequest("POST", "/admin/api/settings", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testToken)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("confirmed patch status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), pending.Key) {
		t.Fatalf("confirmed patch should not be withheld again: %s", w.Body.String())
	}
}

func TestMalformedBody400(t *testing.T) {
	_, h, _ := newTestServer(t)
	req := httptest.NewRequest("POST", "/admin/api/settings", strings.NewReader("{broken"))
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", w.Code)
	}
}

func TestRateLimit429(t *testing.T) {
	srv, h, _ := newTestServer(t)
	_ = srv

	var last int
	for i := 0; i < 100; i++ {
		last = get(h, "/status", testToken).Code
		if last == http.StatusTooManyRequests {
			return
		}
	}
	t.Fatalf("rate limit never engaged, last status = %d", last)
}
