package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/signalpipe/signalpipe/internal/backtest"
	"github.com/signalpipe/signalpipe/internal/db"
	"github.com/signalpipe/signalpipe/internal/executor"
	"github.com/signalpipe/signalpipe/internal/risk"
)

// Server is the HTTP front door described in spec.md §6: health/liveness,
// the signal read surface, and the manual trading-control surface, all
// sharing the same database handle and executor/guard wiring the
// generator/distributor/executor/riskguard binaries use independently.
type Server struct {
	router     *gin.Engine
	db         *db.DB
	guard      *risk.Guard
	executors  map[string]*executor.Executor
	version    string
	addr       string
	server     *http.Server
	keyStore   *APIKeyStore
	authConfig *AuthConfig
}

// Config contains server configuration.
type Config struct {
	Host    string
	Port    int
	DB      *db.DB
	Guard   *risk.Guard
	Executors map[string]*executor.Executor
	Backtest  *backtest.Runner
	Version   string

	// Auth wires the API-key store backing every non-health endpoint.
	// Pool may be nil in development, in which case AuthConfig.Enabled
	// should be false.
	Pool       *pgxpool.Pool
	AuthConfig *AuthConfig
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	authConfig := cfg.AuthConfig
	if authConfig == nil {
		authConfig = DefaultAuthConfig()
	}
	keyStore := NewAPIKeyStore(cfg.Pool, authConfig.Enabled)

	srv := &Server{
		router:     router,
		db:         cfg.DB,
		guard:      cfg.Guard,
		executors:  cfg.Executors,
		version:    version,
		addr:       addr,
		keyStore:   keyStore,
		authConfig: authConfig,
	}

	backtestHandler := NewBacktestHandler(cfg.Backtest, cfg.DB)

	srv.setupRoutes(keyStore, authConfig, backtestHandler)

	return srv
}

// Router exposes the underlying gin engine so the owning binary can
// attach process-wide middleware (rate limiting, audit logging) and
// additional routes (a websocket upgrade endpoint) before Start.
func (s *Server) Router() *gin.Engine { return s.router }

// StreamAuthMiddleware is the same bearer-credential gate every other
// non-health route uses, exposed so the owning binary can apply it to
// routes it registers itself (the websocket upgrade endpoint).
func (s *Server) StreamAuthMiddleware() gin.HandlerFunc {
	return AuthMiddleware(s.keyStore, s.authConfig)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}

	return nil
}

// LoggerMiddleware is a custom logging middleware for Gin.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method

		logEvent := log.Info().
			Str("method", method).
			Str("path", path).
			Str("query", query).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("client_ip", clientIP)

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("API request")
	}
}
