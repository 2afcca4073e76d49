package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"moneyspent/internal/core"
)

type categoryAmountResponse struct {
	Category    string `json:"category"`
	AmountCents int64  `json:"amount_cents"`
	Amount      string `json:"amount"`
}

type monthOverviewResponse struct {
	Year         int                      `json:"year"`
	Month        int                      `json:"month"`
	IncomeCents  int64                    `json:"income_cents"`
	ExpenseCents int64                    `json:"expense_cents"`
	NetCents     int64                    `json:"net_cents"`
	SavingsRate  float64                  `json:"savings_rate"`
	ByCategory   []categoryAmountResponse `json:"by_category"`
}

type monthlyPointResponse struct {
	Month        int   `json:"month"`
	IncomeCents  int64 `json:"income_cents"`
	ExpenseCents int64 `json:"expense_cents"`
}

func toMonthOverviewResponse(o core.MonthOverview) monthOverviewResponse {
	byCategory := make([]categoryAmountResponse, 0, len(o.ByCategory))
	for _, c := range o.ByCategory {
		byCategory = append(byCategory, categoryAmountResponse{
			Category:    c.Name,
			AmountCents: c.Amount.Cents,
			Amount:      core.FormatCents(c.Amount.Cents),
		})
	}
	return monthOverviewResponse{
		Year:         o.Year,
		Month:        o.Month,
		IncomeCents:  o.Income.Cents,
		ExpenseCents: o.Expense.Cents,
		NetCents:     o.Net.Cents,
		SavingsRate:  o.SavingsRate,
		ByCategory:   byCategory,
	}
}

func (s *Server) handleMonthOverview(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	year, month := parseYearMonth(r)

	key := cacheKey(uid, year, month)
	if cached, ok := s.overviewCache.Get(key); ok {
		respondJSON(w, http.StatusOK, toMonthOverviewResponse(cached))
		return
	}

	overview, err := s.analytics.MonthOverview(r.Context(), uid, year, month)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	s.overviewCache.Set(key, overview)
	respondJSON(w, http.StatusOK, toMonthOverviewResponse(overview))
}

func (s *Server) handleYearTrend(w http.ResponseWriter, r *http.Request) {
	year := time.Now().Year()
	if v := strings.TrimSpace(r.URL.Query().Get("year")); v != "" {
		if y, err := strconv.Atoi(v); err == nil {
			year = y
		}
	}

	points, err := s.analytics.YearTrend(r.Context(), userID(r), year)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	out := make([]monthlyPointResponse, 0, len(points))
	for _, p := range points {
		out = append(out, monthlyPointResponse{
			Month:        p.Month,
			IncomeCents:  p.Income.Cents,
			ExpenseCents: p.Expense.Cents,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

type categoryResponse struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.categories.ListCategories(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	out := make([]categoryResponse, 0, len(categories))
	for _, c := range categories {
		out = append(out, categoryResponse{Name: c.Name, Kind: string(c.Kind)})
	}
	respondJSON(w, http.StatusOK, out)
}
