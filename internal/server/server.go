package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/marginbot/internal/domain"
	"github.com/alanyoungcy/marginbot/internal/server/handler"
	"github.com/alanyoungcy/marginbot/internal/server/middleware"
	"github.com/alanyoungcy/marginbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per RateWindow per client; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health       *handler.HealthHandler
	Positions    *handler.PositionHandler
	Managers     *handler.ManagerHandler
	Actions      *handler.ActionHandler // nil in monitor mode
	Liquidations *handler.LiquidationHandler
	Metrics      http.Handler
}

// Deps are optional collaborators of the middleware chain.
type Deps struct {
	Limiter domain.RateLimiter
	Metrics middleware.HTTPObserver
}

// Server is the headless HTTP + WebSocket API of the margin engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	registerRoutes(mux, handlers, wsHub)

	// Build the middleware chain.
	var h http.Handler = mux
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, "/api/health", "/metrics")(h)
	}
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger, deps.Metrics)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // actions wait for finality
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

func registerRoutes(mux *http.ServeMux, handlers Handlers, wsHub *ws.Hub) {
	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	// Positions.
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.GetPosition)
	mux.HandleFunc("POST /api/positions/{id}/refresh", handlers.Positions.RefreshPosition)

	// Manager registry.
	mux.HandleFunc("GET /api/accounts/{account}/managers", handlers.Managers.ListManagers)
	mux.HandleFunc("POST /api/accounts/{account}/managers", handlers.Managers.RegisterManager)
	mux.HandleFunc("DELETE /api/accounts/{account}/managers", handlers.Managers.ForgetManager)

	// Actions.
	if handlers.Actions != nil {
		mux.HandleFunc("POST /api/actions/check", handlers.Actions.CheckAction)
		mux.HandleFunc("POST /api/actions", handlers.Actions.ExecuteAction)
		mux.HandleFunc("POST /api/preview", handlers.Actions.PreviewAction)
		mux.HandleFunc("POST /api/orders/size", handlers.Actions.SizeOrder)
	}

	// Liquidations.
	mux.HandleFunc("GET /api/liquidations", handlers.Liquidations.ListCandidates)
	mux.HandleFunc("GET /api/liquidations/history", handlers.Liquidations.ListHistory)
	mux.HandleFunc("POST /api/liquidations/refresh", handlers.Liquidations.RefreshCandidates)
	mux.HandleFunc("POST /api/liquidations/{id}/execute", handlers.Liquidations.ExecuteLiquidation)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
}

// Handler exposes the full middleware chain, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
