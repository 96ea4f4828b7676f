// Package api exposes score submission and leaderboard reads over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/score-verifier/internal/auth"
	"github.com/atmx/score-verifier/internal/leaderboard"
	"github.com/atmx/score-verifier/internal/model"
	"github.com/atmx/score-verifier/internal/store"
	"github.com/atmx/score-verifier/internal/verify"
)

// AttestationHeader carries the client integrity token.
const AttestationHeader = "X-Attestation-Token"

// Server holds the HTTP handlers. The websocket hub is optional.
type Server struct {
	verifier  *verify.Service
	store     store.Store
	identity  auth.IdentityProvider
	committer *leaderboard.Committer
	hub       *WSHub
	topN      int
	logger    *slog.Logger
}

// NewServer creates the API server. Pass nil for hub to disable /ws.
func NewServer(v *verify.Service, st store.Store, id auth.IdentityProvider, c *leaderboard.Committer, hub *WSHub, topN int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if topN <= 0 {
		topN = 100
	}
	return &Server{verifier: v, store: st, identity: id, committer: c, hub: hub, topN: topN, logger: logger}
}

// Routes mounts the handlers on r. Callers mount it under /api/v1.
func (s *Server) Routes(r chi.Router) {
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
	r.Get("/engine", s.GetEngine)
	r.Post("/submissions", s.Submit)
	r.Get("/leaderboard/{seasonID}", s.GetLeaderboard)
	r.Get("/leaderboard/{seasonID}/users/{userID}", s.GetUserEntry)
}

// --- HTTP Handlers ---

// Submit handles POST /api/v1/submissions.
func (s *Server) Submit(w http.ResponseWriter, r *http.Request) {
	token, err := auth.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	userID, err := s.identity.Authenticate(r.Context(), token)
	if err != nil {
		writeError(w, "invalid identity token", http.StatusUnauthorized)
		return
	}

	sub, err := verify.DecodeSubmission(r.Body)
	if err != nil {
		writeVerifyError(w, err)
		return
	}

	resp, err := s.verifier.Verify(r.Context(), verify.Request{
		UserID:           userID,
		AttestationToken: r.Header.Get(AttestationHeader),
		Submission:       sub,
	})
	if err != nil {
		writeVerifyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetLeaderboard handles GET /api/v1/leaderboard/{seasonID}. It serves the
// materialized snapshot; before the first snapshot run it ranks live.
func (s *Server) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	seasonID := chi.URLParam(r, "seasonID")
	ctx := r.Context()

	snap, err := s.store.GetSnapshot(ctx, seasonID)
	if err == nil {
		writeJSON(w, http.StatusOK, snap)
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("get snapshot failed", "season_id", seasonID, "err", err)
		writeError(w, "leaderboard unavailable", http.StatusServiceUnavailable)
		return
	}

	if _, err := s.store.GetSeason(ctx, seasonID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "season not found", http.StatusNotFound)
			return
		}
		writeError(w, "leaderboard unavailable", http.StatusServiceUnavailable)
		return
	}
	entries, err := s.store.TopEntries(ctx, seasonID, s.topN)
	if err != nil {
		writeError(w, "leaderboard unavailable", http.StatusServiceUnavailable)
		return
	}
	total, err := s.store.CountEntries(ctx, seasonID)
	if err != nil {
		writeError(w, "leaderboard unavailable", http.StatusServiceUnavailable)
		return
	}
	live := leaderboard.BuildSnapshot(seasonID, entries, total, time.Now().UTC())
	writeJSON(w, http.StatusOK, live)
}

// UserEntryResponse is a user's best entry with its current rank.
type UserEntryResponse struct {
	model.LeaderboardEntry
	Rank int64 `json:"rank"`
}

// GetUserEntry handles GET /api/v1/leaderboard/{seasonID}/users/{userID}.
func (s *Server) GetUserEntry(w http.ResponseWriter, r *http.Request) {
	seasonID := chi.URLParam(r, "seasonID")
	userID := chi.URLParam(r, "userID")

	entry, err := s.store.GetEntry(r.Context(), seasonID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "entry not found", http.StatusNotFound)
			return
		}
		writeError(w, "leaderboard unavailable", http.StatusServiceUnavailable)
		return
	}
	rank, err := s.committer.Rank(r.Context(), seasonID, entry.Score)
	if err != nil {
		writeError(w, "leaderboard unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, UserEntryResponse{LeaderboardEntry: *entry, Rank: rank})
}

// GetEngine handles GET /api/v1/engine.
func (s *Server) GetEngine(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.verifier.Engine())
}

// Health handles GET /health.
func Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok","service":"score-verifier"}`))
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeVerifyError maps a verification error code to its HTTP status.
func writeVerifyError(w http.ResponseWriter, err error) {
	var status int
	switch verify.CodeOf(err) {
	case verify.CodeValidation:
		status = http.StatusBadRequest
	case verify.CodeVersionUnsupported:
		status = http.StatusUpgradeRequired
	case verify.CodeSeasonNotFound:
		status = http.StatusNotFound
	case verify.CodeSeasonEnded:
		status = http.StatusGone
	case verify.CodeIntegrityRejected:
		status = http.StatusForbidden
	case verify.CodeReplayMismatch:
		status = http.StatusUnprocessableEntity
	case verify.CodeRateLimited:
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", strconv.Itoa(60))
	default:
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", strconv.Itoa(1))
	}
	writeJSON(w, status, verify.Failure(err))
}
