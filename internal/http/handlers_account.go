package http

import (
	"net/http"
	"time"

	"moneyspent/internal/core"
)

type accountRequest struct {
	Name            string `json:"name"`
	Currency        string `json:"currency"`
	StartingBalance string `json:"starting_balance"`
}

type accountResponse struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Currency             string    `json:"currency"`
	StartingBalanceCents int64     `json:"starting_balance_cents"`
	BalanceCents         int64     `json:"balance_cents"`
	Balance              string    `json:"balance"`
	IsArchived           bool      `json:"is_archived"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func toAccountResponse(a core.Account) accountResponse {
	return accountResponse{
		ID:                   a.ID,
		Name:                 a.Name,
		Currency:             a.Currency,
		StartingBalanceCents: a.StartingBalance.Cents,
		BalanceCents:         a.Balance.Cents,
		Balance:              core.FormatCents(a.Balance.Cents),
		IsArchived:           a.IsArchived,
		CreatedAt:            a.CreatedAt,
		UpdatedAt:            a.UpdatedAt,
	}
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}

	// Starting balance is optional: omit it for a zero opening balance.
	// When present it must be a positive decimal; signed values are
	// rejected by the parser.
	var startingCents int64
	if req.StartingBalance != "" {
		cents, err := core.ParseDecimalToCents(req.StartingBalance)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid starting balance")
			return
		}
		startingCents = cents
	}

	account := core.Account{
		Name:            sanitizeInput(req.Name),
		Currency:        req.Currency,
		StartingBalance: core.Money{Cents: startingCents},
	}

	created, err := s.accounts.Create(r.Context(), userID(r), account)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toAccountResponse(created))
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"
	list, err := s.accounts.List(r.Context(), userID(r), includeArchived)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	out := make([]accountResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toAccountResponse(a))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.accounts.Get(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toAccountResponse(account))
}

func (s *Server) handleArchiveAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.Archive(r.Context(), userID(r), r.PathValue("id")); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// handleReconcileAccount forces an immediate balance check instead of
// waiting for the worker's sweep.
func (s *Server) handleReconcileAccount(w http.ResponseWriter, r *http.Request) {
	drift, err := s.accounts.Reconcile(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if drift != 0 {
		s.invalidateUserCaches(userID(r))
	}
	respondJSON(w, http.StatusOK, map[string]int64{"drift_cents": drift})
}
