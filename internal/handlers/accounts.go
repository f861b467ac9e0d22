package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/pulsegram/backend/internal/logging"
	"github.com/pulsegram/backend/internal/repositories"
)

// AccountHandler updates account settings.
type AccountHandler struct {
	Accounts AccountStore
	Cache    AccountCache
	NowFunc  func() time.Time
}

type privacyRequest struct {
	Private *bool `json:"private" validate:"required"`
}

// SetPrivacy handles POST /api/v1/accounts/{accountId}/privacy. Existing
// follow edges are left as they are.
func (h AccountHandler) SetPrivacy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	accountID := r.PathValue("accountId")
	if !actorAllowed(ctx, w, accountID) {
		return
	}

	var req privacyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	if h.NowFunc != nil {
		now = h.NowFunc()
	}
	if err := h.Accounts.SetPrivate(ctx, accountID, *req.Private, now); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "account not found")
			return
		}
		logging.FromContext(ctx).Error("update privacy failed", "error", err, "account_id", accountID)
		respondError(ctx, w, http.StatusInternalServerError, "failed to update account")
		return
	}
	if h.Cache != nil {
		h.Cache.Invalidate(accountID)
	}

	respondJSON(ctx, w, http.StatusOK, map[string]bool{"private": *req.Private})
}
