package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// maxBodyBytes bounds webhook request bodies.
const maxBodyBytes = 1 << 20

type handler struct {
	proc          Processor
	token         string
	signingSecret string
	installer     Installer
	log           *slog.Logger
}

// registerRoutes sets up all gateway routes on the Gin router.
func registerRoutes(router *gin.Engine, h *handler) {
	router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	slack := router.Group("/slack")
	slack.POST("/events", h.handleEvents)
	slack.POST("/commands", h.handleCommands)
	slack.GET("/install", h.handleInstall)
	slack.GET("/oauth", h.handleOAuth)
}

// requestLogger logs one line per request with a generated request id.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-Id", id)
		start := time.Now()
		c.Next()
		log.Info("gateway: request",
			"request_id", id,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"slack_retry", c.GetHeader("X-Slack-Retry-Num"),
		)
	}
}
