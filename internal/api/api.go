// Package api exposes the curation workflow over HTTP: dashboard and
// progress views, match and note writes, export generation, and snapshot
// management.
package api

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/padmatch/internal/backup"
	"github.com/tphakala/padmatch/internal/conf"
	"github.com/tphakala/padmatch/internal/ledger"
	"github.com/tphakala/padmatch/internal/logging"
	"github.com/tphakala/padmatch/internal/observability"
	"github.com/tphakala/padmatch/internal/records"
)

// Controller manages the API routes and handlers.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	Settings *conf.Settings
	Store    *records.Store
	Resolver *records.Resolver
	Ledger   ledger.Store
	Backups  *backup.Manager

	metrics        *observability.Metrics
	statsCache     *cache.Cache
	apiLogger      *slog.Logger
	apiLoggerClose func() error
}

// New creates a new API controller and registers its routes on the given echo
// instance.
func New(e *echo.Echo, settings *conf.Settings, store *records.Store,
	resolver *records.Resolver, ledgerStore ledger.Store,
	backupManager *backup.Manager, metrics *observability.Metrics) (*Controller, error) {

	cacheTTL := time.Duration(settings.WebServer.CacheTTL) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = cache.NoExpiration
	}

	c := &Controller{
		Echo:       e,
		Settings:   settings,
		Store:      store,
		Resolver:   resolver,
		Ledger:     ledgerStore,
		Backups:    backupManager,
		metrics:    metrics,
		statsCache: cache.New(cacheTTL, 2*cacheTTL),
	}

	if settings.WebServer.Log.Enabled {
		logger, closeFn, err := logging.NewFileLogger(
			settings.WebServer.Log.Path, "api", slog.LevelInfo)
		if err != nil {
			logging.Warn("failed to create API log file, logging to default",
				"path", settings.WebServer.Log.Path, "error", err)
			c.apiLogger = logging.ForService("api")
		} else {
			c.apiLogger = logger
			c.apiLoggerClose = closeFn
		}
	} else {
		c.apiLogger = logging.ForService("api")
	}
	if c.apiLogger == nil {
		c.apiLogger = slog.Default().With("service", "api")
	}

	c.Group = e.Group("/api/v1")
	c.initRoutes()
	return c, nil
}

// initRoutes registers all API endpoints. Mutating endpoints sit behind the
// optional basic auth gate.
func (c *Controller) initRoutes() {
	c.Echo.GET("/health", c.HealthCheck)
	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}

	c.Group.GET("/stats", c.GetStats)
	c.Group.GET("/apis", c.GetAPIs)
	c.Group.GET("/apis/:api/pads", c.GetPADList)
	c.Group.GET("/pads/:api/:pad", c.GetPADGroup)
	c.Group.GET("/backups", c.ListBackups)

	protected := c.Group.Group("", c.requireAuth())
	protected.POST("/matches", c.SaveMatch)
	protected.POST("/notes", c.SaveNote)
	protected.GET("/export", c.GenerateExport)
	protected.POST("/import", c.RunImport)
	protected.POST("/backups", c.TriggerBackup)
	protected.DELETE("/backups/:id", c.DeleteBackup)
}

// HealthCheck reports liveness and ledger connectivity.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	if _, err := c.Ledger.Stats(); err != nil {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  "ledger unavailable",
		})
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Start runs the HTTP server until the context is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	c.Echo.HideBanner = true
	c.Echo.Use(middleware.Recover())
	c.Echo.Use(middleware.Gzip())
	c.Echo.Use(middleware.CORS())

	errChan := make(chan error, 1)
	go func() {
		addr := ":" + c.Settings.WebServer.Port
		c.apiLogger.Info("http server starting", "addr", addr)
		if err := c.Echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return c.Shutdown(shutdownCtx)
	}
}

// Shutdown stops the HTTP server and closes the API log file.
func (c *Controller) Shutdown(ctx context.Context) error {
	err := c.Echo.Shutdown(ctx)
	if c.apiLoggerClose != nil {
		_ = c.apiLoggerClose()
	}
	return err
}

// invalidateCaches drops cached rendering state after a write.
func (c *Controller) invalidateCaches() {
	c.statsCache.Flush()
}

// ErrorResponse is the JSON body returned for failed requests.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates a new API error response with a correlation id for
// log lookup.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// generateCorrelationID creates a unique identifier for error tracking.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%08d", time.Now().UnixNano()%100000000)
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// HandleError logs the failure and writes the JSON error response.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	errorResp := NewErrorResponse(err, message, code)

	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	c.apiLogger.Error("request failed",
		"correlation_id", errorResp.CorrelationID,
		"message", message,
		"error", errorStr,
		"code", code,
		"path", ctx.Request().URL.Path,
		"method", ctx.Request().Method,
		"ip", ctx.RealIP())

	return ctx.JSON(code, errorResp)
}
