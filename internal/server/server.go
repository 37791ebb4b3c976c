// Package server exposes the operational HTTP surface of the ledger
// daemon: health, metrics, record submission, and the published root and
// inclusion-proof artifacts.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/holdonravn/Privora-core/internal/coord"
	"github.com/holdonravn/Privora-core/internal/ledger"
	"github.com/holdonravn/Privora-core/internal/metrics"
	"github.com/holdonravn/Privora-core/internal/queue"
)

// Config assembles the router's collaborators.
type Config struct {
	Ledger      *ledger.Ledger
	Queue       *queue.AppendQueue
	Nonces      coord.NonceStore
	NonceTTL    time.Duration
	CORSOrigins []string
	Logger      *zap.Logger
}

// NewRouter builds the gin engine with the standard middleware chain and
// all ledger routes mounted.
func NewRouter(cfg Config) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())

	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.CORSOrigins,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	router.Use(requestLogger(cfg.Logger))
	router.Use(metricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	lh := NewLedgerHandler(cfg.Ledger, cfg.Queue, cfg.Nonces, cfg.NonceTTL, cfg.Logger)
	v1 := router.Group("/v1")
	lh.Register(v1)

	return router
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// metricsMiddleware records per-request counters.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metrics.RecordRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()))
	}
}
