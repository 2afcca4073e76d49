package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"moneyspent/internal/core"
	applog "moneyspent/internal/log"
	"moneyspent/internal/services"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed encoding response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorBody{Error: code, Message: message})
}

// respondWriteError handles an error from a transaction write. A partial
// write means the row change may have landed even though the call failed, so
// the user's cached reads are dropped before responding; the refresh the
// error body asks for then reaches storage instead of a pre-write cache
// entry.
func (s *Server) respondWriteError(w http.ResponseWriter, r *http.Request, err error) {
	var partial *services.PartialWriteError
	if errors.As(err, &partial) {
		s.invalidateUserCaches(userID(r))
	}
	respondServiceError(w, r, err)
}

// respondServiceError maps service and domain errors onto HTTP statuses.
// A partial write is reported as its own error code so clients know the
// operation may have half-landed and the balance can be stale until the
// reconcile worker settles it.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := applog.FromContext(r.Context())
	var partial *services.PartialWriteError
	switch {
	case errors.As(err, &partial):
		logger.ErrorContext(r.Context(), "Partial write",
			"operation", partial.Op,
			"transaction_id", partial.TransactionID,
			"accounts", partial.AccountIDs,
			"error", err)
		respondError(w, http.StatusInternalServerError, "balance_stale",
			"the operation may have partially succeeded; the account balance will be repaired shortly, refresh before retrying")
	case errors.Is(err, core.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, core.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidTransactionType),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrInvalidCurrency),
		errors.Is(err, core.ErrEmptyName),
		errors.Is(err, core.ErrEmptyCategory):
		respondError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	default:
		logger.ErrorContext(r.Context(), "Request failed", "url", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
	}
}

// decodeJSON reads a request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
