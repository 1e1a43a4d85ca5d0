package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/consumer"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/metrics"
)

// StatsSource is satisfied by *consumer.Stats.
type StatsSource interface {
	Snapshot() consumer.StatsSnapshot
}

type StatusHandler struct {
	service string
	queue   string
	ackMode string
	stats   StatsSource
}

func NewStatusHandler(service, queue, ackMode string, stats StatsSource) *StatusHandler {
	return &StatusHandler{
		service: service,
		queue:   queue,
		ackMode: ackMode,
		stats:   stats,
	}
}

// HealthCheck returns server status
func (h *StatusHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"service":  h.service,
		"queue":    h.queue,
		"ack_mode": h.ackMode,
	})
}

// Stats returns outcome counters since startup
func (h *StatusHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats.Snapshot())
}

// NewRouter wires the status routes plus /metrics.
func NewRouter(h *StatusHandler, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	router.GET("/health", h.HealthCheck)
	router.GET("/stats", h.Stats)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
