// Package gateway serves the loopback HTTP control plane and the sanitized
// WebSocket event stream.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

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

// SkillInfo describes one loaded skill for the /skills endpoint.
type SkillInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SkillLister exposes loaded skills; the loader is external.
type SkillLister interface {
	Skills() []SkillInfo
}

// Options wires the server to the rest of the host.
type Options struct {
	Host        string
	Port        int
	Token       string
	AgentName   string
	ProviderID  string
	Model       string
	Settings    *settings.Store
	Tasks       *tasks.Store
	Approvals   *approval.Broker
	Costs       *costs.Tracker
	Triggers    *triggers.Registry
	Agents      *orchestrator.AgentRegistry
	Router      *orchestrator.Router
	Audit       *guard.AuditLog
	Memory      memory.Store
	Events      *bus.EventStream
	Limiter     *guard.RateLimiter
	Skills      SkillLister
	TriggersCtl func() error // restart trigger runners after registry changes
}

// Server is the control-plane HTTP server.
type Server struct {
	opts    Options
	started time.Time
	hub     *wsHub
	srv     *http.Server
}

// New creates the server and subscribes the WebSocket hub to the event
// stream.
func New(opts Options) *Server {
	s := &Server{opts: opts, started: time.Now(), hub: newWSHub()}
	if opts.Events != nil {
		opts.Events.SubscribeEvents(func(ev bus.Event) {
			s.hub.broadcast(sanitizeEvent(ev))
		})
	}
	return s
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	s.routes(mux)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port),
		Handler:           s.wrap(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Gateway listening", "addr", s.srv.Addr)

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		s.hub.closeAll()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// wrap applies security headers, rate limiting, body limits, and bearer
// authentication around every route except /health.
func (s *Server) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")

		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		cfg := s.opts.Settings.Get()
		ip := clientIP(r)
		if s.opts.Limiter != nil && !s.opts.Limiter.Allow("http:"+ip, cfg.Limits.HTTPRequestsPerMinute) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}

		if cfg.Security.GatewayAuth && !s.authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		if cfg.Limits.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, int64(cfg.Limits.MaxRequestBodyBytes))
		}
		next.ServeHTTP(w, r)
	})
}

// authorized checks the bearer header; WebSocket upgrades may carry the
// token as ?token= instead.
func (s *Server) authorized(r *http.Request) bool {
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if token == "" && r.URL.Path == "/ws" {
		token = r.URL.Query().Get("token")
	}
	return token != "" && guard.TokensEqual(token, s.opts.Token)
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/skills", s.handleSkills)
	mux.HandleFunc("/memory", s.handleMemory)
	mux.HandleFunc("/ws", s.handleWS)

	mux.HandleFunc("/admin/api/settings", s.handleSettings)
	mux.HandleFunc("/admin/api/settings/confirm", s.handleSettingsConfirm)
	mux.HandleFunc("/admin/api/tasks", s.handleTasks)
	mux.HandleFunc("/admin/api/tasks/", s.handleTaskByID)
	mux.HandleFunc("/admin/api/approvals", s.handleApprovals)
	mux.HandleFunc("/admin/api/approvals/", s.handleApprovalByID)
	mux.HandleFunc("/admin/api/costs/today", s.handleCostsToday)
	mux.HandleFunc("/admin/api/costs/history", s.handleCostsHistory)
	mux.HandleFunc("/admin/api/costs/config", s.handleCostsConfig)
	mux.HandleFunc("/admin/api/triggers", s.handleTriggers)
	mux.HandleFunc("/admin/api/triggers/", s.handleTriggerByID)
	mux.HandleFunc("/admin/api/agents", s.handleAgents)
	mux.HandleFunc("/admin/api/audit", s.handleAudit)
	mux.HandleFunc("/admin/api/audit/dates", s.handleAuditDates)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":   s.opts.AgentName,
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	skillCount := 0
	if s.opts.Skills != nil {
		skillCount = len(s.opts.Skills.Skills())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        s.opts.AgentName,
		"provider":    s.opts.ProviderID,
		"model":       s.opts.Model,
		"skills":      skillCount,
		"memoryCount": s.opts.Memory.Count(),
		"uptime":      time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	var skills []SkillInfo
	if s.opts.Skills != nil {
		skills = s.opts.Skills.Skills()
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": skills})
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"entries": s.opts.Memory.Entries()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
