package triggers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// WebhookServer is the shared loopback HTTP listener that routes inbound
// webhooks to registered triggers by path.
type WebhookServer struct {
	addr        string
	maxBodySize int64

	mu     sync.RWMutex
	routes map[string]*webhookRoute
}

type webhookRoute struct {
	trigger *Trigger
	secret  string
	fire    func(*Trigger, map[string]any)
}

// NewWebhookServer creates a server bound to the loopback webhook port.
func NewWebhookServer(host string, port int, maxBodySize int64) *WebhookServer {
	if maxBodySize <= 0 {
		maxBodySize = 1 << 20
	}
	return &WebhookServer{
		addr:        fmt.Sprintf("%s:%d", host, port),
		maxBodySize: maxBodySize,
		routes:      make(map[string]*webhookRoute),
	}
}

// Run serves until the context is cancelled.
func (s *WebhookServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           http.HandlerFunc(s.handle),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *WebhookServer) register(path string, route *webhookRoute) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[path] = route
}

func (s *WebhookServer) unregister(path string) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.routes, path)
}

func (s *WebhookServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	route, ok := s.routes[r.URL.Path]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBodySize))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if route.secret != "" && !verifyWebhookSecret(r, body, route.secret) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var payload map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			payload = map[string]any{"raw": string(body)}
		}
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["method"] = r.Method
	payload["path"] = r.URL.Path

	route.fire(route.trigger, payload)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, `{"ok":true}`)
}

// verifyWebhookSecret accepts either a constant-time shared secret in
// X-Webhook-Secret or a GitHub-style HMAC in X-Hub-Signature-256.
func verifyWebhookSecret(r *http.Request, body []byte, secret string) bool {
	if got := r.Header.Get("X-Webhook-Secret"); got != "" {
		return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
	}
	if sig := r.Header.Get("X-Hub-Signature-256"); sig != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
		return subtle.ConstantTimeCompare([]byte(sig), []byte(want)) == 1
	}
	return false
}

// webhookRunner just registers its path for the lifetime of the context;
// the shared server does the listening.
type webhookRunner struct {
	trigger *Trigger
	server  *WebhookServer
	path    string
}

func newWebhookRunner(t *Trigger, server *WebhookServer, fire func(*Trigger, map[string]any)) (*webhookRunner, error) {
	if server == nil {
		return nil, fmt.Errorf("webhook server not configured")
	}
	path := t.ConfigString("path")
	server.register(path, &webhookRoute{
		trigger: t,
		secret:  t.ConfigString("secret"),
		fire:    fire,
	})
	return &webhookRunner{trigger: t, server: server, path: path}, nil
}

func (r *webhookRunner) Run(ctx context.Context) error {
	<-ctx.Done()
	r.server.unregister(r.path)
	return ctx.Err()
}
