// Package api provides the HTTP server for the CodeBuddy gateway.
// It wires the gin engine, the password gate in front of /v1, the OpenAI-compatible
// chat handlers and the credential management endpoints, and applies hot-reloaded
// configuration to the running handlers.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	managementHandlers "github.com/router-for-me/CodeBuddyAPI/internal/api/handlers/management"
	"github.com/router-for-me/CodeBuddyAPI/internal/api/middleware"
	"github.com/router-for-me/CodeBuddyAPI/internal/config"
	"github.com/router-for-me/CodeBuddyAPI/internal/credential"
	"github.com/router-for-me/CodeBuddyAPI/internal/logging"
	"github.com/router-for-me/CodeBuddyAPI/internal/runtime/executor"
	"github.com/router-for-me/CodeBuddyAPI/internal/usage"
	"github.com/router-for-me/CodeBuddyAPI/sdk/api/handlers"
	"github.com/router-for-me/CodeBuddyAPI/sdk/api/handlers/openai"
	log "github.com/sirupsen/logrus"
)

type serverOptionConfig struct {
	extraMiddleware    []gin.HandlerFunc
	engineConfigurator func(*gin.Engine)
	routerConfigurator func(*gin.Engine, *handlers.BaseAPIHandler, *config.Config)
	logBuffer          *logging.RingBuffer
	version            string
}

// ServerOption customises HTTP server construction.
type ServerOption func(*serverOptionConfig)

// WithMiddleware appends additional Gin middleware during server construction.
func WithMiddleware(mw ...gin.HandlerFunc) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.extraMiddleware = append(cfg.extraMiddleware, mw...)
	}
}

// WithEngineConfigurator allows callers to mutate the Gin engine prior to middleware setup.
func WithEngineConfigurator(fn func(*gin.Engine)) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.engineConfigurator = fn
	}
}

// WithRouterConfigurator appends a callback after default routes are registered.
func WithRouterConfigurator(fn func(*gin.Engine, *handlers.BaseAPIHandler, *config.Config)) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.routerConfigurator = fn
	}
}

// WithLogBuffer serves /v1/logs from rb instead of logging.GlobalBuffer.
func WithLogBuffer(rb *logging.RingBuffer) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.logBuffer = rb
	}
}

// WithVersion sets the version string reported by GET /.
func WithVersion(version string) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.version = version
	}
}

// Server represents the main API server.
type Server struct {
	engine *gin.Engine
	server *http.Server

	// handlers is shared by the chat endpoints and receives config reloads.
	handlers *handlers.BaseAPIHandler
	mgmt     *managementHandlers.Handler
	creds    *credential.Manager

	// cfg holds the configuration in effect; middleware reads it per request.
	cfg atomic.Pointer[config.Config]

	version   string
	startedAt time.Time
}

// NewServer builds the gin engine and registers every route. The returned
// server is not listening until Start is called.
func NewServer(cfg *config.Config, creds *credential.Manager, exec *executor.Executor, stats *usage.RequestStatistics, opts ...ServerOption) *Server {
	optionState := &serverOptionConfig{version: "dev"}
	for i := range opts {
		opts[i](optionState)
	}
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if optionState.engineConfigurator != nil {
		optionState.engineConfigurator(engine)
	}

	middleware.SetMetricsEnabled(cfg.IsMetricsEnabled())
	usage.SetStatisticsEnabled(true)

	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(middleware.ConnectionTrackerMiddleware())
	engine.Use(middleware.PrometheusMiddleware())
	engine.Use(middleware.RequestDecompressionMiddleware())
	for _, mw := range optionState.extraMiddleware {
		engine.Use(mw)
	}
	engine.Use(corsMiddleware())

	s := &Server{
		engine:    engine,
		handlers:  handlers.NewBaseAPIHandlers(cfg, creds, exec, stats),
		mgmt:      managementHandlers.NewHandler(creds, stats, optionState.logBuffer),
		creds:     creds,
		version:   optionState.version,
		startedAt: time.Now(),
	}
	s.cfg.Store(cfg)
	s.setupRoutes()

	if optionState.routerConfigurator != nil {
		optionState.routerConfigurator(engine, s.handlers, cfg)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 30 * time.Second,
	}
	return s
}

// setupRoutes configures the API routes for the server.
func (s *Server) setupRoutes() {
	openaiHandlers := openai.NewOpenAIAPIHandler(s.handlers)

	s.engine.GET("/", s.info)
	s.engine.GET("/healthz", s.health)
	s.engine.GET("/metrics", middleware.MetricsHandler())

	v1 := s.engine.Group("/v1")
	v1.Use(AuthMiddleware(s.password))
	{
		v1.GET("/models", openaiHandlers.OpenAIModels)
		v1.POST("/chat/completions", openaiHandlers.ChatCompletions)

		v1.GET("/credentials", s.mgmt.ListCredentials)
		v1.POST("/credentials", s.mgmt.AddCredential)
		v1.POST("/credentials/select", s.mgmt.SelectCredential)
		v1.POST("/credentials/auto", s.mgmt.ResumeAutoRotation)
		v1.POST("/credentials/toggle-rotation", s.mgmt.ToggleAutoRotation)
		v1.GET("/credentials/current", s.mgmt.CurrentCredential)
		v1.POST("/credentials/delete", s.mgmt.DeleteCredential)

		v1.GET("/usage", s.mgmt.GetUsageStatistics)
		v1.GET("/logs", s.mgmt.GetLogs)
	}
}

func (s *Server) info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "CodeBuddy API gateway",
		"version": s.version,
		"endpoints": []string{
			"POST /v1/chat/completions",
			"GET /v1/models",
			"GET /v1/credentials",
			"GET /v1/usage",
			"GET /healthz",
		},
	})
}

func (s *Server) health(c *gin.Context) {
	logging.SkipGinRequestLogging(c)
	c.JSON(http.StatusOK, gin.H{
		"status":             "ok",
		"credentials":        s.creds.Pool().Len(),
		"active_connections": middleware.ActiveConnections.Count(),
		"uptime_seconds":     int64(time.Since(s.startedAt).Seconds()),
	})
}

// Handler exposes the gin engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins listening for and serving HTTP requests.
// It's a blocking call and will only return on an unrecoverable error.
func (s *Server) Start() error {
	if s == nil || s.server == nil {
		return fmt.Errorf("failed to start HTTP server: server not initialized")
	}

	log.Infof("CodeBuddy API gateway listening on %s", s.server.Addr)
	if errServe := s.server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %v", errServe)
	}
	return nil
}

// Stop gracefully shuts down the API server without interrupting any
// active connections.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("Stopping API server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %v", err)
	}
	log.Debug("API server stopped")
	return nil
}

// UpdateConfig applies a reloaded configuration. The listen address is fixed
// for the lifetime of the process; everything else takes effect immediately.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	old := s.cfg.Swap(cfg)

	if old == nil || old.LogLevel != cfg.LogLevel {
		logging.SetLogLevel(cfg.LogLevel)
		log.Infof("log level set to %s", cfg.LogLevel)
	}
	if old != nil && (old.Host != cfg.Host || old.Port != cfg.Port) {
		log.Warn("host/port changes require a restart")
	}
	middleware.SetMetricsEnabled(cfg.IsMetricsEnabled())

	pool := s.creds.Pool()
	pool.SetRotationCount(cfg.RotationCount)
	pool.SetGrace(time.Duration(cfg.GetCredentialExpiryGraceSeconds()) * time.Second)

	s.handlers.UpdateClients(cfg)
	log.Debug("configuration applied")
}

func (s *Server) password() string {
	if cfg := s.cfg.Load(); cfg != nil {
		return cfg.Password
	}
	return ""
}

// AuthMiddleware guards routes with the configured password, sent as a bearer token.
// An unset password rejects every request rather than leaving the gateway open.
func AuthMiddleware(password func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := ""
		if password != nil {
			expected = password()
		}
		if expected == "" {
			abortAuth(c, http.StatusInternalServerError, "server_error", "Server password is not configured")
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		token, found := strings.CutPrefix(header, "Bearer ")
		token = strings.TrimSpace(token)
		if !found || token == "" {
			abortAuth(c, http.StatusUnauthorized, "authentication_error", "Missing API key")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			abortAuth(c, http.StatusForbidden, "permission_error", "Invalid API key")
			return
		}
		c.Next()
	}
}

func abortAuth(c *gin.Context, status int, errType, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"message": message, "type": errType}})
}

// corsMiddleware allows browser clients on any origin; /v1 is still password gated.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin := strings.TrimSpace(c.GetHeader("Origin")); origin != "" {
			c.Header("Access-Control-Allow-Origin", "*")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "*")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
