package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"moneyspent/internal/cache"
	"moneyspent/internal/core"
	"moneyspent/internal/services"
)

// TransactionAPI is the transaction write/read surface the server exposes.
type TransactionAPI interface {
	Create(ctx context.Context, userID string, t core.Transaction) (core.Transaction, error)
	Update(ctx context.Context, userID, transactionID string, patch services.TransactionPatch) (core.Transaction, error)
	Delete(ctx context.Context, userID, transactionID string) error
	Get(ctx context.Context, userID, transactionID string) (core.Transaction, error)
	List(ctx context.Context, userID string, year, month int) ([]core.Transaction, error)
}

// AccountAPI covers account management and on-demand reconciliation.
type AccountAPI interface {
	Create(ctx context.Context, userID string, a core.Account) (core.Account, error)
	Get(ctx context.Context, userID, accountID string) (core.Account, error)
	List(ctx context.Context, userID string, includeArchived bool) ([]core.Account, error)
	Archive(ctx context.Context, userID, accountID string) error
	Reconcile(ctx context.Context, userID, accountID string) (int64, error)
}

type AnalyticsReader interface {
	MonthOverview(ctx context.Context, userID string, year, month int) (core.MonthOverview, error)
	YearTrend(ctx context.Context, userID string, year int) ([]core.MonthlyPoint, error)
}

type CategoryReader interface {
	ListCategories(ctx context.Context) ([]core.Category, error)
}

// UserResolver maps a presented API key to a user.
type UserResolver interface {
	GetUserByAPIKey(ctx context.Context, apiKey string) (core.User, error)
}

type Options struct {
	CacheSize int
	CacheTTL  time.Duration
}

type Server struct {
	http.Server
	transactions TransactionAPI
	accounts     AccountAPI
	analytics    AnalyticsReader
	categories   CategoryReader
	users        UserResolver
	rateLimiter  *rateLimiter

	// Read caches keyed "userID|year|month". Any write for a user drops
	// all of that user's entries.
	listCache     *cache.LRUCache[[]core.Transaction]
	overviewCache *cache.LRUCache[core.MonthOverview]
	cacheManager  *cache.Manager

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(addr string, tx TransactionAPI, ac AccountAPI, an AnalyticsReader, cats CategoryReader, users UserResolver, opts Options) *Server {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 100
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}

	mux := http.NewServeMux()
	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		transactions:  tx,
		accounts:      ac,
		analytics:     an,
		categories:    cats,
		users:         users,
		rateLimiter:   newRateLimiter(),
		listCache:     cache.NewLRUCache[[]core.Transaction](2*opts.CacheSize, opts.CacheTTL),
		overviewCache: cache.NewLRUCache[core.MonthOverview](opts.CacheSize, opts.CacheTTL),
		cacheManager:  cache.NewManager(),
	}
	s.cacheManager.Register(s.listCache)
	s.cacheManager.Register(s.overviewCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("POST /api/transactions", s.guard(s.handleCreateTransaction))
	mux.HandleFunc("GET /api/transactions", s.guard(s.handleListTransactions))
	mux.HandleFunc("GET /api/transactions/{id}", s.guard(s.handleGetTransaction))
	mux.HandleFunc("PUT /api/transactions/{id}", s.guard(s.handleUpdateTransaction))
	mux.HandleFunc("DELETE /api/transactions/{id}", s.guard(s.handleDeleteTransaction))

	mux.HandleFunc("POST /api/accounts", s.guard(s.handleCreateAccount))
	mux.HandleFunc("GET /api/accounts", s.guard(s.handleListAccounts))
	mux.HandleFunc("GET /api/accounts/{id}", s.guard(s.handleGetAccount))
	mux.HandleFunc("POST /api/accounts/{id}/archive", s.guard(s.handleArchiveAccount))
	mux.HandleFunc("POST /api/accounts/{id}/reconcile", s.guard(s.handleReconcileAccount))

	mux.HandleFunc("GET /api/categories", s.guard(s.handleListCategories))
	mux.HandleFunc("GET /api/analytics/overview", s.guard(s.handleMonthOverview))
	mux.HandleFunc("GET /api/analytics/trend", s.guard(s.handleYearTrend))

	return s
}

// guard chains request logging, rate limiting, security headers and API-key
// auth in front of a handler.
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return s.withObservability(s.withAuth(next))
}

// withObservability adds a request ID, request/response logging, security
// headers and write-path rate limiting.
func (s *Server) withObservability(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ip := clientIP(r)
		requestID := generateRequestID()

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", ip)

		if r.Method != http.MethodGet && !s.rateLimiter.allow(ip) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", ip, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			respondError(w, http.StatusTooManyRequests, "rate_limited", "too many requests, slow down")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// withAuth resolves the Bearer token to a user and stores the user ID in the
// request context. No token, or a token matching no user, is a 401.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := bearerToken(r)
		if key == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized", "missing API key")
			return
		}
		user, err := s.users.GetUserByAPIKey(r.Context(), key)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, user.ID)
		next(w, r.WithContext(ctx))
	}
}

// invalidateUserCaches drops every cached read for the user. Called after
// any successful write, and after a partial write, so stale lists and
// overviews never outlive a change.
func (s *Server) invalidateUserCaches(userID string) {
	s.listCache.DeletePrefix(userID + "|")
	s.overviewCache.DeletePrefix(userID + "|")
}

// Shutdown stops the cache and rate limiter housekeeping, then drains the
// HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
