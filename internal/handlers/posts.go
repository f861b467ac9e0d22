package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/pulsegram/backend/internal/engagement"
	"github.com/pulsegram/backend/internal/logging"
	"github.com/pulsegram/backend/internal/models"
	"github.com/pulsegram/backend/internal/repositories"
)

// PostHandler exposes posts, likes and comments.
type PostHandler struct {
	Engagement Engagement
}

type createPostRequest struct {
	UserID  string `json:"user_id" validate:"required"`
	Content string `json:"content" validate:"max=2000"`
}

type likeRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type commentRequest struct {
	UserID  string `json:"user_id" validate:"required"`
	Content string `json:"content" validate:"max=1000"`
}

// Create handles POST /api/v1/posts.
func (h PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	var req createPostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	if !actorAllowed(ctx, w, req.UserID) {
		return
	}

	post, err := h.Engagement.CreatePost(ctx, req.UserID, req.Content)
	if err != nil {
		respondEngagementError(w, r, err)
		return
	}

	respondJSON(ctx, w, http.StatusCreated, post)
}

// Like handles POST /api/v1/posts/{postId}/like and toggles the like.
func (h PostHandler) Like(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	var req likeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	if !actorAllowed(ctx, w, req.UserID) {
		return
	}

	liked, err := h.Engagement.ToggleLike(ctx, r.PathValue("postId"), req.UserID)
	if err != nil {
		respondEngagementError(w, r, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]bool{"liked": liked})
}

// Comment handles POST /api/v1/posts/{postId}/comments.
func (h PostHandler) Comment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	var req commentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	if !actorAllowed(ctx, w, req.UserID) {
		return
	}

	comment, err := h.Engagement.Comment(ctx, r.PathValue("postId"), req.UserID, req.Content)
	if err != nil {
		respondEngagementError(w, r, err)
		return
	}

	respondJSON(ctx, w, http.StatusCreated, comment)
}

// Comments handles GET /api/v1/posts/{postId}/comments?user_id=.
func (h PostHandler) Comments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	viewerID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if viewerID == "" {
		respondError(ctx, w, http.StatusBadRequest, "user_id is required")
		return
	}
	if !actorAllowed(ctx, w, viewerID) {
		return
	}

	comments, err := h.Engagement.ListComments(ctx, r.PathValue("postId"), viewerID)
	if err != nil {
		respondEngagementError(w, r, err)
		return
	}
	if comments == nil {
		comments = []models.Comment{}
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"comments": comments})
}

func respondEngagementError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, engagement.ErrEmptyContent):
		respondError(ctx, w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engagement.ErrForbidden):
		respondError(ctx, w, http.StatusForbidden, err.Error())
	case errors.Is(err, repositories.ErrNotFound):
		respondError(ctx, w, http.StatusNotFound, "post not found")
	default:
		logging.FromContext(ctx).Error("engagement operation failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "internal error")
	}
}
