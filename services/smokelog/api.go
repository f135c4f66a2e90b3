package smokelog

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/emberlog/service_layer/internal/domain/smoking"
	"github.com/emberlog/service_layer/internal/httputil"
)

// =============================================================================
// API Routes
// =============================================================================

// registerRoutes registers service-specific HTTP routes.
// /health and /info come from BaseService.RegisterStandardRoutes.
func (s *Service) registerRoutes() {
	router := s.Router()

	lock := router.PathPrefix("/api/interval-lock").Subrouter()
	lock.HandleFunc("/status", s.handleLockStatus).Methods(http.MethodGet)
	lock.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	lock.HandleFunc("/settings", s.handleUpdateSettings).Methods(http.MethodPut)
	lock.HandleFunc("/violations", s.handleViolations).Methods(http.MethodGet)

	router.HandleFunc("/api/events", s.handleCommit).Methods(http.MethodPost)
	router.HandleFunc("/api/events/{id}", s.handleDeleteEvent).Methods(http.MethodDelete)
	router.HandleFunc("/api/supplies", s.handleCreateSupply).Methods(http.MethodPost)
	router.HandleFunc("/api/supplies", s.handleListSupplies).Methods(http.MethodGet)
	router.HandleFunc("/api/stats/summary", s.handleSummary).Methods(http.MethodGet)
	router.HandleFunc("/api/leaderboard", s.handleLeaderboard).Methods(http.MethodGet)

	s.RegisterStandardRoutes()
}

// =============================================================================
// Response Types
// =============================================================================

type dataResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

type commitResponse struct {
	Success     bool          `json:"success"`
	Data        smoking.Event `json:"data"`
	IsViolation bool          `json:"is_violation"`
}

type leaderboardResponse struct {
	Success bool               `json:"success"`
	Period  string             `json:"period"`
	Data    []LeaderboardEntry `json:"data"`
}

// =============================================================================
// Interval Lock Handlers
// =============================================================================

func (s *Service) handleLockStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	status, err := s.LockStatus(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (s *Service) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	cfg, err := s.GetSettings(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cfg)
}

func (s *Service) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var cfg smoking.IntervalConfig
	if !httputil.DecodeJSON(w, r, &cfg) {
		return
	}
	saved, err := s.UpdateSettings(r.Context(), userID, cfg)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, saved)
}

func (s *Service) handleViolations(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	history, err := s.Violations(r.Context(), userID, limit)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, history)
}

// =============================================================================
// Event Handlers
// =============================================================================

func (s *Service) handleCommit(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var req CommitRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	result, err := s.Commit(r.Context(), userID, req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, commitResponse{
		Success:     true,
		Data:        result.Event,
		IsViolation: result.IsViolation,
	})
}

func (s *Service) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	if _, err := s.DeleteEvent(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, dataResponse{Success: true})
}

// =============================================================================
// Supply Handlers
// =============================================================================

func (s *Service) handleCreateSupply(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var req CreateSupplyRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	sup, err := s.CreateSupply(r.Context(), userID, req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, dataResponse{Success: true, Data: sup})
}

func (s *Service) handleListSupplies(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	supplies, err := s.ListSupplies(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, dataResponse{Success: true, Data: supplies})
}

// =============================================================================
// Statistics Handlers
// =============================================================================

func (s *Service) handleSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	days, ok := queryInt(w, r, "days")
	if !ok {
		return
	}
	summary, err := s.Summary(r.Context(), userID, days)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, dataResponse{Success: true, Data: summary})
}

func (s *Service) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if _, ok := httputil.RequireUserID(w, r); !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	period := r.URL.Query().Get("period")
	if period == "" {
		period = PeriodWeek
	}
	entries, err := s.Leaderboard(r.Context(), period, limit)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, leaderboardResponse{Success: true, Period: period, Data: entries})
}

// queryInt parses an optional integer query parameter; absent means zero.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		httputil.BadRequest(w, name+" must be an integer")
		return 0, false
	}
	return n, true
}
