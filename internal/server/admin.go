package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"grimm.is/knockgate/internal/audit"
	"grimm.is/knockgate/internal/brand"
	"grimm.is/knockgate/internal/engine"
	"grimm.is/knockgate/internal/logging"
)

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status    string         `json:"status"`
	Version   string         `json:"version"`
	Users     int            `json:"users"`
	Addresses map[string]int `json:"addresses"`
	Time      time.Time      `json:"time"`
}

// AdminHandler serves /metrics, /healthz, /readyz, /logs and /addresses.
// It has no authentication and belongs on a loopback or management
// address.
func (s *Server) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.health != nil {
		mux.HandleFunc("GET /readyz", s.health.Handler())
	}
	mux.HandleFunc("GET /logs", s.handleLogs)
	mux.HandleFunc("GET /addresses", s.handleAddresses)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   brand.Version,
		Users:     s.engine.UserCount(),
		Addresses: s.engine.StatusCounts(),
		Time:      s.clk.Now(),
	})
}

// handleLogs returns recent log entries, newest last. Query parameters:
// source (component), level (minimum), addr (client address) and limit
// (default 100, 0 for the whole buffer).
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := logging.LogFilter{
		Source:   q.Get("source"),
		MinLevel: q.Get("level"),
		Address:  q.Get("addr"),
		Limit:    100,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		f.Limit = n
	}
	if f.MinLevel != "" && !logging.ValidLevelName(f.MinLevel) {
		WriteError(w, http.StatusBadRequest, "invalid level", f.MinLevel)
		return
	}
	WriteJSON(w, http.StatusOK, s.logs.Recent(f))
}

func (s *Server) handleAddresses(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, s.engine.Addresses())
}

// ErrorResponse is the body of an admin error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteError sends a JSON error response
func WriteError(w http.ResponseWriter, code int, message string, details ...string) {
	resp := ErrorResponse{Error: message}
	if len(details) > 0 {
		resp.Details = details[0]
	}
	WriteJSON(w, code, resp)
}

// WriteJSON sends a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func maskPath(path string) string {
	return audit.MaskPath(path, engine.AccessPath)
}
