package http

import (
	"net/http"
	"time"

	"moneyspent/internal/core"
	"moneyspent/internal/services"
)

type transactionRequest struct {
	AccountID   string `json:"account_id"`
	Amount      string `json:"amount"`
	Type        string `json:"type"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Date        string `json:"date"`
}

type transactionUpdateRequest struct {
	AccountID   *string `json:"account_id"`
	Amount      *string `json:"amount"`
	Type        *string `json:"type"`
	Category    *string `json:"category"`
	Description *string `json:"description"`
	Date        *string `json:"date"`
}

type transactionResponse struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id,omitempty"`
	Amount      string    `json:"amount"`
	AmountCents int64     `json:"amount_cents"`
	Type        string    `json:"type"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	Date        string    `json:"date"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toTransactionResponse(t core.Transaction) transactionResponse {
	return transactionResponse{
		ID:          t.ID,
		AccountID:   t.AccountID,
		Amount:      core.FormatCents(t.Amount.Cents),
		AmountCents: t.Amount.Cents,
		Type:        string(t.Type),
		Category:    t.Category,
		Description: t.Description,
		Date:        t.Date.Format("2006-01-02"),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func toTransactionResponses(ts []core.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(ts))
	for _, t := range ts {
		out = append(out, toTransactionResponse(t))
	}
	return out
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}

	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid amount")
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid date, expected YYYY-MM-DD")
		return
	}

	tx := core.Transaction{
		AccountID:   req.AccountID,
		Amount:      core.Money{Cents: cents},
		Type:        core.TransactionType(req.Type),
		Category:    sanitizeInput(req.Category),
		Description: sanitizeInput(req.Description),
		Date:        date,
	}

	created, err := s.transactions.Create(r.Context(), userID(r), tx)
	if err != nil {
		s.respondWriteError(w, r, err)
		return
	}

	s.invalidateUserCaches(userID(r))
	respondJSON(w, http.StatusCreated, toTransactionResponse(created))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	year, month := parseYearMonth(r)

	key := cacheKey(uid, year, month)
	if cached, ok := s.listCache.Get(key); ok {
		respondJSON(w, http.StatusOK, toTransactionResponses(cached))
		return
	}

	list, err := s.transactions.List(r.Context(), uid, year, month)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	s.listCache.Set(key, list)
	respondJSON(w, http.StatusOK, toTransactionResponses(list))
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.transactions.Get(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toTransactionResponse(tx))
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}

	var patch services.TransactionPatch
	patch.AccountID = req.AccountID
	if req.Amount != nil {
		cents, err := core.ParseDecimalToCents(*req.Amount)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid amount")
			return
		}
		patch.Amount = &core.Money{Cents: cents}
	}
	if req.Type != nil {
		t := core.TransactionType(*req.Type)
		patch.Type = &t
	}
	if req.Category != nil {
		c := sanitizeInput(*req.Category)
		patch.Category = &c
	}
	if req.Description != nil {
		d := sanitizeInput(*req.Description)
		patch.Description = &d
	}
	if req.Date != nil {
		date, err := parseDate(*req.Date)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "validation_failed", "invalid date, expected YYYY-MM-DD")
			return
		}
		patch.Date = &date
	}

	updated, err := s.transactions.Update(r.Context(), userID(r), r.PathValue("id"), patch)
	if err != nil {
		s.respondWriteError(w, r, err)
		return
	}

	s.invalidateUserCaches(userID(r))
	respondJSON(w, http.StatusOK, toTransactionResponse(updated))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.transactions.Delete(r.Context(), userID(r), r.PathValue("id")); err != nil {
		s.respondWriteError(w, r, err)
		return
	}
	s.invalidateUserCaches(userID(r))
	respondJSON(w, http.StatusNoContent, nil)
}
