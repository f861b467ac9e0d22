package handlers

import (
	"net/http"

	"github.com/pulsegram/backend/internal/logging"
	"github.com/pulsegram/backend/internal/models"
)

// NotificationHandler lists and acknowledges notifications.
type NotificationHandler struct {
	Feed NotificationFeed
}

type markReadRequest struct {
	UserID string `json:"userId" validate:"required"`
}

type notificationsResponse struct {
	Notifications []models.Notification `json:"notifications"`
	Unread        int64                 `json:"unread"`
}

// List handles GET /api/v1/notifications/{accountId}, newest first.
func (h NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)
	accountID := r.PathValue("accountId")
	if !actorAllowed(ctx, w, accountID) {
		return
	}

	items, err := h.Feed.List(ctx, accountID, queryLimit(r))
	if err != nil {
		logger.Error("list notifications failed", "error", err, "account_id", accountID)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load notifications")
		return
	}
	unread, err := h.Feed.UnreadCount(ctx, accountID)
	if err != nil {
		logger.Error("count unread notifications failed", "error", err, "account_id", accountID)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load notifications")
		return
	}
	if items == nil {
		items = []models.Notification{}
	}

	respondJSON(ctx, w, http.StatusOK, notificationsResponse{Notifications: items, Unread: unread})
}

// MarkAllRead handles POST /api/v1/notifications/read.
func (h NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	var req markReadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	if !actorAllowed(ctx, w, req.UserID) {
		return
	}

	updated, err := h.Feed.MarkAllRead(ctx, req.UserID)
	if err != nil {
		logging.FromContext(ctx).Error("mark notifications read failed", "error", err, "account_id", req.UserID)
		respondError(ctx, w, http.StatusInternalServerError, "failed to update notifications")
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"success": true, "updated": updated})
}
