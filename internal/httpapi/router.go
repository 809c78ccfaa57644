// Package httpapi wires the bridge's HTTP surface: health, TwiML for the
// telephony provider, the function catalog, metrics, and the two websocket
// endpoints.
package httpapi

import (
	_ "embed"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appconfig "github.com/Hrhcoolshegs/openai-realtime-agent/internal/config"
	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/metrics"
	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/registry"
	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/ws"
)

//go:embed twiml.xml
var twimlTemplate string

// NewRouter executes the newRouter function.
func NewRouter(cfg appconfig.Config, wsHandler *ws.Handler, reg *registry.Registry, m *metrics.Metrics, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	twiml := func(c *gin.Context) {
		streamURL, err := cfg.CallStreamURL()
		if err != nil {
			c.String(http.StatusInternalServerError, "public url is not configured")
			return
		}
		body := strings.ReplaceAll(twimlTemplate, "{{WS_URL}}", streamURL)
		c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(body))
	}
	router.GET("/twiml", twiml)
	router.POST("/twiml", twiml)

	router.GET("/tools", func(c *gin.Context) {
		c.JSON(http.StatusOK, reg.Schemas())
	})

	router.GET("/public-url", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"publicUrl": cfg.PublicURL})
	})

	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	router.GET("/call", func(c *gin.Context) {
		wsHandler.HandleCall(c.Writer, c.Request)
	})
	router.GET("/logs", func(c *gin.Context) {
		wsHandler.HandleLogs(c.Writer, c.Request)
	})

	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		if logger == nil {
			return
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
		)
	}
}
