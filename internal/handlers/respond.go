package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pulsegram/backend/internal/auth"
	"github.com/pulsegram/backend/internal/logging"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	respondJSON(ctx, w, status, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into dst and runs struct validation.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errInvalidBody
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return validationError{field: verrs[0].Field(), tag: verrs[0].Tag()}
		}
		return errInvalidBody
	}
	return nil
}

var errInvalidBody = errors.New("invalid request body")

type validationError struct {
	field string
	tag   string
}

func (e validationError) Error() string {
	if e.tag == "required" {
		return e.field + " is required"
	}
	return e.field + " is invalid"
}

// actorAllowed reports whether the authenticated account, if any, may act as
// accountID. Requests that passed no authentication middleware are trusted.
func actorAllowed(ctx context.Context, w http.ResponseWriter, accountID string) bool {
	authenticated, ok := auth.AccountIDFromContext(ctx)
	if !ok || authenticated == accountID {
		return true
	}
	logging.FromContext(ctx).Warn("actor mismatch", "acting_as", accountID)
	respondError(ctx, w, http.StatusForbidden, "cannot act on behalf of another account")
	return false
}

// maxListLimit bounds ?limit= on list endpoints.
const maxListLimit = 200

// queryLimit parses ?limit=. Zero means the service default.
func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		return 0
	}
	return min(limit, maxListLimit)
}
