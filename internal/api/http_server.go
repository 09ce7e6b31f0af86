package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"meetdesk/internal/auth"
	"meetdesk/internal/config"
	"meetdesk/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPServer exposes the meeting API.
type HTTPServer struct {
	cfg      config.APIConfig
	meetings *service.MeetingService
	ready    Pinger
	auth     *auth.Authenticator
	limiter  *rateLimiter
	validate *validator.Validate
	server   *http.Server
	logger   *zerolog.Logger
}

func NewHTTPServer(
	cfg config.APIConfig,
	meetings *service.MeetingService,
	ready Pinger,
	authn *auth.Authenticator,
	logger *zerolog.Logger,
) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	srv := &HTTPServer{
		cfg:      cfg,
		meetings: meetings,
		ready:    ready,
		auth:     authn,
		limiter:  newRateLimiter(cfg.RateLimit),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

// Handler builds the routed and instrumented handler.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.Handle("GET /api/v1/slots", s.authenticated(s.handleSlots))
	mux.Handle("POST /api/v1/meetings", s.authenticated(s.handleBook))
	mux.Handle("GET /api/v1/meetings", s.authenticated(s.handleListOwn))
	mux.Handle("GET /api/v1/meetings/{id}", s.authenticated(s.handleGetMeeting))
	mux.Handle("POST /api/v1/meetings/{id}/reschedule", s.authenticated(s.handleReschedule))
	mux.Handle("POST /api/v1/meetings/{id}/cancel", s.authenticated(s.handleCancel))
	mux.Handle("GET /api/v1/quota", s.authenticated(s.handleQuota))

	mux.Handle("GET /api/v1/admin/meetings", s.authenticated(s.handleAdminList))
	mux.Handle("GET /api/v1/admin/meetings/export", s.authenticated(s.handleAdminExport))
	mux.Handle("POST /api/v1/admin/meetings/{id}/status", s.authenticated(s.handleAdminStatus))

	return loggingMiddleware(s.logger, mux)
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
