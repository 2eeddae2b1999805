package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kodokalabs/tetsuo/internal/tasks"
)

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.opts.Settings.Get())
	case http.MethodPost:
		var body struct {
			Patch         map[string]any    `json:"patch"`
			Confirmations map[string]string `json:"confirmations"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Patch == nil {
			http.Error(w, "malformed body", http.StatusBadRequest)
			return
		}
		pending, err := s.opts.Settings.Update(body.Patch, body.Confirmations)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"settings":             s.opts.Settings.Get(),
			"requiresConfirmation": pending,
		})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSettingsConfirm mints the confirmation token for one dangerous
// (key, value) pair.
func (s *Server) handleSettingsConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Key == "" {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	token := s.opts.Settings.ConfirmTokenFor(body.Key, body.Value)
	if token == "" {
		http.Error(w, "not a dangerous setting", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"confirm": token})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": s.opts.Tasks.ListByStatus(r.URL.Query().Get("status")),
	})
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/admin/api/tasks/")
	id, action, _ := strings.Cut(rest, "/")
	task, ok := s.opts.Tasks.Get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"task":     task,
			"subtasks": s.opts.Tasks.ListSubtasks(task.ID),
		})
	case action == "action" && r.Method == http.MethodPost:
		var body struct {
			Action string `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "malformed body", http.StatusBadRequest)
			return
		}
		var err error
		switch body.Action {
		case "cancel":
			_, err = s.opts.Tasks.UpdateStatus(task.ID, tasks.StatusCancelled, tasks.UpdateOpts{})
		case "pause":
			_, err = s.opts.Tasks.UpdateStatus(task.ID, tasks.StatusPaused, tasks.UpdateOpts{})
		case "resume":
			_, err = s.opts.Tasks.UpdateStatus(task.ID, tasks.StatusPending, tasks.UpdateOpts{})
		case "delete":
			err = s.opts.Tasks.Delete(task.ID)
		default:
			http.Error(w, "unknown action", http.StatusBadRequest)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": s.opts.Approvals.All()})
}

func (s *Server) handleApprovalByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/admin/api/approvals/")
	var body struct {
		Approve  bool   `json:"approve"`
		Resolver string `json:"resolver"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	resolver := body.Resolver
	if resolver == "" {
		resolver = "dashboard"
	}
	req, err := s.opts.Approvals.Resolve(id, body.Approve, resolver)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCostsToday(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Costs.Today())
}

func (s *Server) handleCostsHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"days": s.opts.Costs.History()})
}

func (s *Server) handleCostsConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.opts.Costs.GetConfig())
	case http.MethodPost:
		cfg := s.opts.Costs.GetConfig()
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "malformed body", http.StatusBadRequest)
			return
		}
		if err := s.opts.Costs.SetConfig(cfg); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleTriggers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"triggers": s.opts.Triggers.All()})
}

func (s *Server) handleTriggerByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/admin/api/triggers/")
	id, action, _ := strings.Cut(rest, "/")

	switch {
	case action == "toggle" && r.Method == http.MethodPost:
		trigger, err := s.opts.Triggers.Toggle(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.reloadTriggers()
		writeJSON(w, http.StatusOK, trigger)
	case action == "" && r.Method == http.MethodDelete:
		if err := s.opts.Triggers.Delete(id); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.reloadTriggers()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) reloadTriggers() {
	if s.opts.TriggersCtl != nil {
		_ = s.opts.TriggersCtl()
	}
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": s.opts.Agents.Snapshot(),
		"routes": s.opts.Router.Routes(),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.opts.Audit.Read(r.URL.Query().Get("date"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleAuditDates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"dates": s.opts.Audit.Dates()})
}
