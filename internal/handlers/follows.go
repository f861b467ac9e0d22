package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/pulsegram/backend/internal/logging"
	"github.com/pulsegram/backend/internal/repositories"
	"github.com/pulsegram/backend/internal/social"
)

// FollowHandler exposes the follow graph.
type FollowHandler struct {
	Graph FollowGraph
}

type followRequest struct {
	FollowerID  string `json:"follower_id" validate:"required"`
	FollowingID string `json:"following_id" validate:"required"`
}

type respondRequest struct {
	FollowerID  string `json:"follower_id" validate:"required"`
	FollowingID string `json:"following_id" validate:"required"`
	Action      string `json:"action" validate:"required"`
}

// Toggle handles POST /api/v1/follow.
func (h FollowHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	var req followRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	if !actorAllowed(ctx, w, req.FollowerID) {
		return
	}

	status, err := h.Graph.RequestFollow(ctx, req.FollowerID, req.FollowingID)
	if err != nil {
		respondGraphError(w, r, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]string{"status": string(status)})
}

// Respond handles POST /api/v1/follows/respond. Only the followee may answer.
func (h FollowHandler) Respond(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	var req respondRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	if !actorAllowed(ctx, w, req.FollowingID) {
		return
	}

	decision, err := social.ParseDecision(req.Action)
	if err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.Graph.Respond(ctx, req.FollowerID, req.FollowingID, decision); err != nil {
		respondGraphError(w, r, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]bool{"success": true})
}

// Requests handles GET /api/v1/follows/requests/{accountId}.
func (h FollowHandler) Requests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	accountID := r.PathValue("accountId")
	if !actorAllowed(ctx, w, accountID) {
		return
	}

	requests, err := h.Graph.PendingRequests(ctx, accountID)
	if err != nil {
		respondGraphError(w, r, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"requests": requests})
}

// Followers handles GET /api/v1/accounts/{accountId}/followers.
func (h FollowHandler) Followers(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.Graph.Followers)
}

// Following handles GET /api/v1/accounts/{accountId}/following.
func (h FollowHandler) Following(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.Graph.Following)
}

func (h FollowHandler) list(w http.ResponseWriter, r *http.Request, fetch func(ctx context.Context, accountID string) ([]string, error)) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	ids, err := fetch(ctx, r.PathValue("accountId"))
	if err != nil {
		respondGraphError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"accounts": ids})
}

func respondGraphError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, social.ErrSelfFollow),
		errors.Is(err, social.ErrInvalidDecision),
		errors.Is(err, social.ErrMissingAccount):
		respondError(ctx, w, http.StatusBadRequest, err.Error())
	case errors.Is(err, social.ErrAccountSuspended):
		respondError(ctx, w, http.StatusForbidden, err.Error())
	case errors.Is(err, repositories.ErrNotFound):
		respondError(ctx, w, http.StatusNotFound, "not found")
	default:
		logging.FromContext(ctx).Error("follow graph operation failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "internal error")
	}
}
