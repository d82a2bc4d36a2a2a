package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/roomies/roomies-hub/internal/application/command"
	"github.com/roomies/roomies-hub/internal/application/query"
	"github.com/roomies/roomies-hub/internal/domain/gamification"
	"github.com/roomies/roomies-hub/internal/domain/shared"
	"github.com/roomies/roomies-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":        "Roomies Hub API",
		"version":     s.config.Version,
		"description": "Points, levels, streaks and household analytics for shared chores",
		"endpoints": map[string]string{
			"health":    "/health",
			"award":     "POST /api/v1/users/{id}/points",
			"complete":  "POST /api/v1/tasks/{id}/complete",
			"progress":  "GET /api/v1/users/{id}/progress",
			"analytics": "GET /api/v1/households/{id}/analytics?days=30",
			"stream":    "GET /ws?household_id={id}",
		},
	}

	writeJSON(w, r, http.StatusOK, info)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		writeJSONWithMeta(w, r, code, status, &ResponseMeta{Degraded: status.Degraded})
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": s.config.Version,
	})
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		if status := s.deps.HealthChecker.Check(r.Context()); !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// POINTS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// awardRequest is the body of POST /api/v1/users/{id}/points.
type awardRequest struct {
	Delta         int        `json:"delta"`
	Reason        string     `json:"reason"`
	TaskID        string     `json:"task_id,omitempty"`
	OccurredAt    *time.Time `json:"occurred_at,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
}

// completeRequest is the optional body of POST /api/v1/tasks/{id}/complete.
type completeRequest struct {
	UserID        string     `json:"user_id,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
}

// awardResponse is the committed outcome of a balance mutation.
type awardResponse struct {
	UserID       string `json:"user_id"`
	HouseholdID  string `json:"household_id"`
	OldBalance   int    `json:"old_balance"`
	NewBalance   int    `json:"new_balance"`
	AppliedDelta int    `json:"applied_delta"`

	Level     int  `json:"level"`
	LeveledUp bool `json:"leveled_up"`

	Streak     int `json:"streak"`
	BestStreak int `json:"best_streak"`

	Milestones []gamification.AwardedMilestone `json:"milestones"`
	Badges     []gamification.Badge            `json:"badges"`

	TaskID      string    `json:"task_id,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
}

func newAwardResponse(res *command.AwardPointsResult) awardResponse {
	out := awardResponse{
		UserID:       res.UserID,
		HouseholdID:  res.HouseholdID,
		OldBalance:   res.OldBalance,
		NewBalance:   res.NewBalance,
		AppliedDelta: res.AppliedDelta,
		Level:        res.NewLevel,
		LeveledUp:    res.LeveledUp,
		Streak:       res.Streak,
		BestStreak:   res.BestStreak,
		Milestones:   res.Milestones,
		Badges:       res.Badges,
		CommittedAt:  res.CommittedAt,
	}
	if out.Milestones == nil {
		out.Milestones = []gamification.AwardedMilestone{}
	}
	if out.Badges == nil {
		out.Badges = []gamification.Badge{}
	}
	if res.Task != nil {
		out.TaskID = res.Task.ID
	}
	return out
}

// handleAwardPoints handles POST /api/v1/users/{id}/points
func (s *Server) handleAwardPoints(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Points ledger not configured")
		return
	}

	var req awardRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeJSONErrorWithDetails(w, http.StatusBadRequest, "invalid_request", "Malformed request body", err.Error())
		return
	}

	reason, err := gamification.ParseReason(req.Reason)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	cmd := command.AwardPointsCommand{
		UserID:        r.PathValue("id"),
		Delta:         req.Delta,
		Reason:        reason,
		TaskID:        req.TaskID,
		CorrelationID: correlationID(r, req.CorrelationID),
	}
	if req.OccurredAt != nil {
		cmd.OccurredAt = *req.OccurredAt
	}

	res, err := s.deps.Ledger.Award(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, newAwardResponse(res))
}

// handleCompleteTask handles POST /api/v1/tasks/{id}/complete
func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	if s.deps.CompleteTask == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Task completion not configured")
		return
	}

	var req completeRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeJSONErrorWithDetails(w, http.StatusBadRequest, "invalid_request", "Malformed request body", err.Error())
		return
	}

	cmd := command.CompleteTaskCommand{
		TaskID:        r.PathValue("id"),
		UserID:        req.UserID,
		CorrelationID: correlationID(r, req.CorrelationID),
	}
	if req.CompletedAt != nil {
		cmd.CompletedAt = *req.CompletedAt
	}

	res, err := s.deps.CompleteTask.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, newAwardResponse(res))
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS & ANALYTICS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetProgress handles GET /api/v1/users/{id}/progress
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.Progress == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Progress handler not configured")
		return
	}

	dto, err := s.deps.Progress.Handle(r.Context(), query.GetUserProgressQuery{UserID: r.PathValue("id")})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, dto)
}

// handleGetAnalytics handles GET /api/v1/households/{id}/analytics?days=N
// A degraded snapshot is still 200; meta.degraded tells the client.
func (s *Server) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Analytics == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Analytics not configured")
		return
	}

	days, ok := daysParam(w, r)
	if !ok {
		return
	}

	snap, err := s.deps.Analytics.Get(r.Context(), r.PathValue("id"), days)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, snap, &ResponseMeta{Degraded: snap.Degraded})
}

// handleRefreshAnalytics handles POST /api/v1/households/{id}/analytics/refresh?days=N
func (s *Server) handleRefreshAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Analytics == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Analytics not configured")
		return
	}

	days, ok := daysParam(w, r)
	if !ok {
		return
	}

	householdID := r.PathValue("id")
	if err := s.deps.Analytics.Refresh(r.Context(), householdID, days); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusAccepted, map[string]any{
		"household_id": householdID,
		"status":       "refreshed",
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeDomainError maps domain error kinds to HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusForError(err)

	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Warn("request failed", "path", r.URL.Path, "status", status, logger.Err(err))
	} else {
		log.Debug("request rejected", "path", r.URL.Path, "status", status, logger.Err(err))
	}

	message := err.Error()
	var de *shared.DomainError
	if errors.As(err, &de) {
		message = de.Message
	}
	if status == http.StatusInternalServerError {
		message = "An unexpected error occurred"
	}

	writeJSONError(w, status, code, message)
}

func statusForError(err error) (int, string) {
	switch {
	case shared.IsValidation(err):
		return http.StatusBadRequest, "invalid_request"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsAlreadyExists(err):
		return http.StatusConflict, "conflict"
	case errors.Is(err, shared.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, shared.ErrIdempotencyWriteFailure):
		return http.StatusServiceUnavailable, "idempotency_write_failure"
	case shared.IsRetryable(err):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_server_error"
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decodeBody decodes a JSON body strictly. With optional set an empty body
// leaves dst untouched.
func decodeBody(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// daysParam parses ?days=N; absence selects the default window. A
// non-numeric value is answered with 400 and ok=false.
func daysParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return 0, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		writeJSONErrorWithDetails(w, http.StatusBadRequest, "invalid_request", "days must be an integer", raw)
		return 0, false
	}
	if days == 0 {
		// 0 would silently select the default window
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "days must be between 1 and 366")
		return 0, false
	}
	return days, true
}

// correlationID prefers the body value and falls back to the request ID.
func correlationID(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return getRequestID(r.Context())
}
