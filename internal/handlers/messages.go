package handlers

import (
	"errors"
	"net/http"

	"github.com/pulsegram/backend/internal/logging"
	"github.com/pulsegram/backend/internal/messaging"
	"github.com/pulsegram/backend/internal/models"
)

// MessageHandler serves conversation history. Sending happens over /ws.
type MessageHandler struct {
	Conversations Conversations
}

// History handles GET /api/v1/messages/{accountId}/{peerId}.
func (h MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	accountID, peerID := r.PathValue("accountId"), r.PathValue("peerId")
	if !actorAllowed(ctx, w, accountID) {
		return
	}

	msgs, err := h.Conversations.History(ctx, accountID, peerID, queryLimit(r))
	if err != nil {
		respondMessagingError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"messages": msgs})
}

// MarkRead handles POST /api/v1/messages/{accountId}/{peerId}/read.
func (h MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	accountID, peerID := r.PathValue("accountId"), r.PathValue("peerId")
	if !actorAllowed(ctx, w, accountID) {
		return
	}

	updated, err := h.Conversations.MarkConversationRead(ctx, accountID, peerID)
	if err != nil {
		respondMessagingError(w, r, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]int64{"updated": updated})
}

func respondMessagingError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	if errors.Is(err, messaging.ErrMissingParticipant) {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	logging.FromContext(ctx).Error("conversation operation failed", "error", err)
	respondError(ctx, w, http.StatusInternalServerError, "internal error")
}
