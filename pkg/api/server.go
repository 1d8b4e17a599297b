package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rhinehart514/hivesync/pkg/auth"
	"github.com/rhinehart514/hivesync/pkg/engine"
	"github.com/rhinehart514/hivesync/pkg/log"
	"github.com/rhinehart514/hivesync/pkg/metrics"
	"github.com/rhinehart514/hivesync/pkg/storage"
	"github.com/rhinehart514/hivesync/pkg/stream"
)

// Config wires the server's collaborators. Engine, Streamer and Store are
// required; nil Provider and Permissions fall back to the development
// defaults (accept everything as the local user, allow everything).
type Config struct {
	Engine      *engine.Engine
	Streamer    *stream.Streamer
	Store       storage.Store
	Provider    auth.Provider
	Permissions auth.PermissionChecker

	// AllowUserHeader lets the X-User-ID header name the caller when no
	// bearer token is present. Development convenience; off for jwt
	// deployments.
	AllowUserHeader bool

	// RequestsPerSecond and RateBurst bound per-caller request rates.
	// Zero disables limiting.
	RequestsPerSecond float64
	RateBurst         int

	// ReadTimeout bounds how long reading one request may take. Zero
	// falls back to 30s. Responses carry no write timeout: live streams
	// hold them open indefinitely.
	ReadTimeout time.Duration

	// Version is reported by /health.
	Version string
}

// Server is the HTTP API. It owns no domain state; every operation runs
// through the engine or the streamer.
type Server struct {
	engine      *engine.Engine
	streamer    *stream.Streamer
	store       storage.Store
	permissions auth.PermissionChecker
	version     string
	readTimeout time.Duration

	router *gin.Engine
	http   *http.Server
}

// NewServer creates the API server and registers all routes.
func NewServer(cfg Config) *Server {
	provider := cfg.Provider
	if provider == nil {
		provider = auth.NopProvider{}
	}
	permissions := cfg.Permissions
	if permissions == nil {
		permissions = auth.AllowAll{}
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Logger.Error().
			Any("panic", recovered).
			Str("path", c.Request.URL.Path).
			Msg("handler panicked")
		abortWithCode(c, http.StatusInternalServerError, CodeInternal, "internal error")
	}))
	router.Use(observe())

	s := &Server{
		engine:      cfg.Engine,
		streamer:    cfg.Streamer,
		store:       cfg.Store,
		permissions: permissions,
		version:     version,
		readTimeout: readTimeout,
		router:      router,
	}

	router.GET("/health", s.handleHealth)
	router.GET("/ready", s.handleReady)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/v1")
	v1.Use(authenticate(provider, cfg.AllowUserHeader))
	v1.Use(rateLimit(cfg.RequestsPerSecond, cfg.RateBurst))

	tools := v1.Group("/tools/:toolId")
	{
		tools.POST("/updates", s.handleSubmit)
		tools.GET("/updates", s.handleHistory)
		tools.DELETE("/updates", s.handleCleanup)
		tools.DELETE("/updates/:updateId", s.handleCleanupEvent)
		tools.POST("/updates/:updateId/ack", s.handleRecordAck)
		tools.GET("/updates/:updateId/ack", s.handleAckStatus)
		tools.POST("/sync", s.handleSync)
		tools.GET("/snapshot", s.handleSnapshot)
		tools.GET("/stream/ws", s.handleStreamWS)
	}

	return s
}

// Handler exposes the router for in-process use and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API on addr and blocks until Stop or a listener error.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: s.readTimeout,
	}

	log.Info(fmt.Sprintf("HTTP API listening on %s", addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down, waiting for in-flight requests up
// to the context deadline. Open streams end when their request contexts are
// canceled by the shutdown.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
}

// ReadyResponse is the /ready body.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// handleHealth is a liveness check: 200 whenever the process can answer.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   s.version,
		Uptime:    metrics.Uptime().Round(time.Second).String(),
	})
}

// handleReady reports readiness to take traffic. The store is probed live;
// every other subsystem reports through the component health registry.
func (s *Server) handleReady(c *gin.Context) {
	checks := make(map[string]string)
	ready := true
	var message string

	for name, component := range metrics.Components() {
		if name == "storage" {
			// The live probe below is authoritative for storage.
			continue
		}
		if component.Healthy {
			checks[name] = "ok"
		} else {
			checks[name] = fmt.Sprintf("error: %s", component.Message)
			ready = false
			message = name + " unhealthy"
		}
	}

	if s.store != nil {
		if _, err := s.store.Stats(c.Request.Context()); err != nil {
			checks["storage"] = fmt.Sprintf("error: %v", err)
			ready = false
			message = "Storage not accessible"
		} else {
			checks["storage"] = "ok"
		}
	} else {
		checks["storage"] = "not initialized"
		ready = false
		message = "Store not initialized"
	}

	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not ready"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, ReadyResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
		Message:   message,
	})
}
