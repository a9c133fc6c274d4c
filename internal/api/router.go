// Package api is the local HTTP control surface of the sync daemon: queue
// inspection and editing, conflict resolution, forced sync, metrics, and the
// notification websocket.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/emirbensusan/lotastro-sync/internal/metrics"
	"github.com/emirbensusan/lotastro-sync/internal/netstatus"
	"github.com/emirbensusan/lotastro-sync/internal/store"
	"github.com/emirbensusan/lotastro-sync/internal/sync"
)

// NetworkView exposes the latest connectivity observation.
type NetworkView interface {
	Current() netstatus.Status
}

// Options wires the router to the engine. Queue, Scheduler and Network are
// required; the rest are optional.
type Options struct {
	Queue     *sync.QueueManager
	Scheduler *sync.Scheduler
	Network   NetworkView

	// Writer handles POST /queue when set; otherwise mutations are queued
	// without an immediate attempt.
	Writer *sync.Writer
	Store  *store.Store

	Metrics        *metrics.Recorder
	Events         http.Handler
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter builds the gin engine.
func NewRouter(opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	h := &handler{
		queue:     opts.Queue,
		scheduler: opts.Scheduler,
		network:   opts.Network,
		writer:    opts.Writer,
		store:     opts.Store,
		metrics:   opts.Metrics,
		logger:    logger,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: opts.AllowedOrigins,
			AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders: []string{"Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/status", h.status)

	r.GET("/queue", h.listQueue)
	r.POST("/queue", h.submit)
	r.DELETE("/queue", h.clearQueue)
	r.DELETE("/queue/:id", h.removeMutation)
	r.POST("/queue/:id/retry", h.retryMutation)
	r.POST("/queue/retry-failed", h.retryFailed)

	r.GET("/conflicts", h.listConflicts)
	r.POST("/conflicts/:id/resolve", h.resolve)

	r.POST("/sync", h.forceSync)
	r.PUT("/sync/enabled", h.setEnabled)

	if opts.Store != nil {
		r.GET("/records/:table", h.listRecords)
	}

	if opts.Metrics != nil {
		r.GET("/metrics", h.metricsSnapshot)
	}

	if opts.Events != nil {
		r.GET("/ws", gin.WrapH(opts.Events))
	}

	return r
}

// requestLogger logs each request at debug level.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("api request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}
