package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/limber-app/limber/internal/app/engagement"
	"github.com/limber-app/limber/internal/infra/metrics"
)

// ─── Request Types ──────────────────────────────────────────────────────────

type sessionRequest struct {
	At              *time.Time `json:"at,omitempty"`
	Date            string     `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DurationMinutes int        `json:"duration_minutes" validate:"gte=0,lte=1440"`
	Area            string     `json:"area" validate:"max=64"`
}

type settingRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// decode reads an optional JSON body into v and validates it.
func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return validate.Struct(v)
}

func userID(r *http.Request) string { return chi.URLParam(r, "userID") }

// ─── Sessions & Progress ────────────────────────────────────────────────────

func (s *Server) handleLogSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in := engagement.SessionInput{Date: req.Date, DurationMinutes: req.DurationMinutes, Area: req.Area}
	if req.At != nil {
		in.At = *req.At
	}

	res, err := s.engine.LogSession(r.Context(), userID(r), in)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	metrics.ObserveSession(req.DurationMinutes)
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Progress(r.Context(), userID(r)))
}

// ─── Streak ─────────────────────────────────────────────────────────────────

func (s *Server) handleStreak(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Streaks.Status(r.Context(), userID(r)))
}

func (s *Server) handleFreeze(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Streaks.ApplyFreeze(r.Context(), userID(r))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, resultStatus(res.Success), res)
}

func (s *Server) handleCheckStreak(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Streaks.CheckStreak(r.Context(), userID(r))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleResetStreak(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Streaks.ResetStreak(r.Context(), userID(r)); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Streaks.Status(r.Context(), userID(r)))
}

// ─── Challenges ─────────────────────────────────────────────────────────────

func (s *Server) handleChallenges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"challenges": s.engine.Challenges.List(r.Context(), userID(r)),
	})
}

func (s *Server) handleRefreshChallenges(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Challenges.Refresh(r.Context(), userID(r))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Challenges.Claim(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, resultStatus(res.Success), res)
}

// ─── Rewards ────────────────────────────────────────────────────────────────

func (s *Server) handleRewards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rewards": s.engine.Rewards.List(r.Context(), userID(r)),
	})
}

func (s *Server) handleUseReward(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.UseReward(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, resultStatus(res.Success), res)
}

func (s *Server) handleRefillReward(w http.ResponseWriter, r *http.Request) {
	refilled, err := s.engine.RefillReward(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"refilled": refilled})
}

func (s *Server) handleRewardSetting(w http.ResponseWriter, r *http.Request) {
	var req settingRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	applied, err := s.engine.Rewards.SetSetting(r.Context(), userID(r), chi.URLParam(r, "id"), *req.Enabled)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, resultStatus(applied), map[string]bool{"applied": applied})
}

// ─── Events ─────────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := engagement.DefaultInboxLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || validate.Var(n, "gte=1,lte=500") != nil {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	events, err := s.inbox.Recent(r.Context(), userID(r), limit)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// resultStatus maps a structured Success:false result to 409.
func resultStatus(ok bool) int {
	if ok {
		return http.StatusOK
	}
	return http.StatusConflict
}
