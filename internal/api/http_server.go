package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"carebook/internal/config"
	"carebook/internal/database"
	"carebook/internal/domain"
	"carebook/internal/metrics"
	"carebook/internal/webhook"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// HTTPServer exposes the booking API and the provider webhook endpoint.
type HTTPServer struct {
	cfg           *config.APIConfig
	bookings      domain.BookingService
	centers       domain.CenterDirectory
	store         domain.BookingStore
	notifications domain.NotificationLog
	reconciler    *webhook.Reconciler
	server        *http.Server
	auth          *HTTPAuth
	logger        *zerolog.Logger
}

func NewHTTPServer(
	cfg *config.APIConfig,
	bookings domain.BookingService,
	centers domain.CenterDirectory,
	store domain.BookingStore,
	notifications domain.NotificationLog,
	reconciler *webhook.Reconciler,
	logger *zerolog.Logger,
) *HTTPServer {
	srv := &HTTPServer{
		cfg:           cfg,
		bookings:      bookings,
		centers:       centers,
		store:         store,
		notifications: notifications,
		reconciler:    reconciler,
		logger:        logger,
	}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/bookings", srv.handleCreateBooking)
	mux.HandleFunc("GET /api/v1/bookings", srv.handleListBookings)
	mux.HandleFunc("GET /api/v1/bookings/{id}", srv.handleGetBooking)
	mux.HandleFunc("PATCH /api/v1/bookings/{id}", srv.handleUpdateBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", srv.handleCancelBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/confirm", srv.handleConfirmBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/complete", srv.handleCompleteBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/no-show", srv.handleNoShowBooking)
	mux.HandleFunc("GET /api/v1/bookings/number/{number}", srv.handleGetBookingByNumber)
	mux.HandleFunc("GET /api/v1/users/{id}/bookings", srv.handleUserBookings)
	mux.HandleFunc("GET /api/v1/centers", srv.handleCenters)
	mux.HandleFunc("GET /api/v1/notifications/failed", srv.handleFailedNotifications)

	// The webhook endpoint authenticates by payload signature, and the
	// health check stays open; neither goes through API-key auth.
	root := http.NewServeMux()
	root.Handle("/api/v1/", srv.loggingMiddleware(srv.auth.Wrap(mux)))
	root.HandleFunc("POST /webhooks/scheduling", srv.handleSchedulingWebhook)
	root.HandleFunc("GET /healthz", srv.handleHealth)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the root handler for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		metrics.IncHTTP(r.Method + " " + r.URL.Path)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError translates domain sentinels into HTTP statuses.
// Storage failures stay behind a generic message.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrInvalidInput), errors.Is(err, database.ErrPastDate):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrDuplicateBooking),
		errors.Is(err, database.ErrStatusConflict),
		errors.Is(err, database.ErrConcurrentModification):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error, please try again")
	}
}

// HTTPAuth provides API-key auth and per-key rate limiting.
type HTTPAuth struct {
	cfg      *config.APIConfig
	clients  map[string]config.APIClientKey
	limiters sync.Map // map[string]*rate.Limiter
}

func NewHTTPAuth(cfg *config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{cfg: cfg, clients: m}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.checkAuth(r); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		if err := a.checkRateLimit(r); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) apiKey(r *http.Request) string {
	header := strings.TrimSpace(a.cfg.Auth.HeaderAPIKey)
	if header == "" {
		header = "x-api-key"
	}
	return strings.TrimSpace(r.Header.Get(header))
}

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	key := a.apiKey(r)
	if key == "" {
		return fmt.Errorf("missing api key")
	}

	for known := range a.clients {
		if subtle.ConstantTimeCompare([]byte(known), []byte(key)) == 1 {
			return nil
		}
	}
	return fmt.Errorf("invalid api key")
}

func (a *HTTPAuth) checkRateLimit(r *http.Request) error {
	if a.cfg.RateLimit.RPS <= 0 {
		return nil
	}

	key := a.apiKey(r)
	val, _ := a.limiters.LoadOrStore(key, rate.NewLimiter(rate.Limit(a.cfg.RateLimit.RPS), a.cfg.RateLimit.Burst))
	limiter := val.(*rate.Limiter)
	if !limiter.Allow() {
		return fmt.Errorf("rate limit exceeded")
	}
	return nil
}
