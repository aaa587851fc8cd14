package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/por-chain/por/config"
	"github.com/por-chain/por/internal/cache"
	"github.com/por-chain/por/internal/oracle"
	"github.com/por-chain/por/internal/store"
	"github.com/por-chain/por/internal/websocket/hub"
	"github.com/por-chain/por/pkg/logger"
)

var (
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "por_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "por_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// Server represents the API server
type Server struct {
	config   config.APIConfig
	engine   *oracle.Engine
	archive  *store.Store
	cache    *cache.RedisCache
	cacheTTL time.Duration
	wsHub    *hub.Hub
	auth     *AuthManager
	log      *logger.Logger
	router   *gin.Engine
	server   *http.Server
	limiter  *rate.Limiter
	upgrader websocket.Upgrader
}

// NewServer creates a new API server. Archive and cache are optional; the
// matching routes return 503 when the backing service is disabled.
func NewServer(
	cfg config.APIConfig,
	engine *oracle.Engine,
	archive *store.Store,
	redisCache *cache.RedisCache,
	cacheTTL time.Duration,
	wsHub *hub.Hub,
	log *logger.Logger,
) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config:   cfg,
		engine:   engine,
		archive:  archive,
		cache:    redisCache,
		cacheTTL: cacheTTL,
		wsHub:    wsHub,
		auth:     NewAuthManager(cfg.JWTSecret),
		log:      log,
		router:   router,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit*2),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	// CORS middleware
	s.router.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		allowed := false
		for _, allowedOrigin := range s.config.CORSOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Rate limiting middleware
	s.router.Use(func(c *gin.Context) {
		if !s.limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests, please try again later",
			})
			c.Abort()
			return
		}
		c.Next()
	})

	// Logging middleware
	s.router.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		s.log.Info("API request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", duration.Milliseconds(),
			"ip", c.ClientIP(),
		)

		apiRequestsTotal.WithLabelValues(c.Request.Method, path, fmt.Sprintf("%d", status)).Inc()
		apiRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration.Seconds())
	})

	// Timeout middleware
	s.router.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.Timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/health/ready", s.handleHealthReady)
	s.router.GET("/version", s.handleVersion)

	v1 := s.router.Group("/api/v1")
	{
		verifiers := v1.Group("/verifiers")
		{
			verifiers.POST("", s.handleRegisterVerifier)
			verifiers.GET("/:actor", s.handleGetVerifier)
			verifiers.GET("/:actor/slashes", s.handleGetVerifierSlashes)
		}

		rounds := v1.Group("/rounds")
		{
			rounds.POST("", AdminMiddleware(s.auth), s.handleStartRound)
			rounds.GET("/:id", s.handleGetRound)
			rounds.GET("/:id/participants", s.handleGetParticipants)
			rounds.POST("/:id/proofs", s.handleSubmitProof)
			rounds.POST("/:id/expire", AdminMiddleware(s.auth), s.handleExpireRound)
		}

		v1.GET("/farms/:farm/rounds", s.handleGetFarmRounds)

		v1.GET("/params", s.handleGetParams)
		v1.PUT("/params", AdminMiddleware(s.auth), s.handleUpdateParams)
	}

	if s.config.EnableWebSocket {
		s.router.GET("/ws", s.handleWebSocket)
	}
}

// Start starts the API server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.log.Info("Starting API server", "address", addr)

	s.server = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Stopping API server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Router exposes the underlying handler, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Auth exposes the token issuer, used by the CLI and tests.
func (s *Server) Auth() *AuthManager {
	return s.auth
}

// handleWebSocket upgrades the connection and attaches it to the hub
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}

	client := hub.NewClient(s.wsHub, conn, s.log)
	s.wsHub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
