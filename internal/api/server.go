// Package api serves the engine status, run results, prometheus metrics and
// a websocket stream of engine events.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/VeinDevTtv/vein-smc-bot/config"
	"github.com/VeinDevTtv/vein-smc-bot/internal/backtest"
	"github.com/VeinDevTtv/vein-smc-bot/internal/engine"
	"github.com/VeinDevTtv/vein-smc-bot/internal/events"
	"github.com/VeinDevTtv/vein-smc-bot/internal/logging"
)

// StatusSource exposes the state of a running or finished backtest.
type StatusSource interface {
	Snapshot() (engine.Snapshot, bool)
	Progress() backtest.Progress
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	source     StatusSource
	metrics    http.Handler
	hub        *WSHub
	logger     zerolog.Logger
	startedAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	result *backtest.Result
}

// NewServer creates the API server. metrics may be nil. When bus is not nil
// its events are streamed on /ws.
func NewServer(cfg config.ServerConfig, source StatusSource, bus *events.EventBus, metrics http.Handler, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.GinMiddleware(logger))

	corsConfig := cors.DefaultConfig()
	origins := splitOrigins(cfg.AllowedOrigins)
	if len(origins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Trace-ID"}
	corsConfig.ExposeHeaders = []string{"Content-Length", "X-Trace-ID"}
	router.Use(cors.New(corsConfig))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		router:    router,
		source:    source,
		metrics:   metrics,
		hub:       NewWSHub(logger),
		logger:    logging.WithComponent(logger, "api"),
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  seconds(cfg.ReadTimeout, 15),
		WriteTimeout: seconds(cfg.WriteTimeout, 15),
		IdleTimeout:  60 * time.Second,
	}
	go s.hub.Run(ctx)
	if bus != nil {
		s.hub.Attach(bus)
	}

	s.setupRoutes()
	return s
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		o = strings.TrimSpace(o)
		if o == "*" {
			return nil
		}
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/result", s.handleResult)
	s.router.GET("/ws", s.handleWebSocket)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// SetResult publishes the summary of a finished run on /result.
func (s *Server) SetResult(r *backtest.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = r
}

// Start serves until Shutdown is called. After Shutdown it returns nil
// without listening.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server and the websocket hub
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	s.cancel()
	return s.httpServer.Shutdown(ctx)
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}
