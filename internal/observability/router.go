package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StatusFunc reports liveness details for /health.
type StatusFunc func() map[string]any

// NewRouter serves /health and /metrics for local scraping. metricsGuard runs
// in front of /metrics only.
func NewRouter(status StatusFunc, metricsGuard ...gin.HandlerFunc) *gin.Engine {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), observeRequests(log.Logger.With().Str("component", "ops").Logger()))

	r.GET("/health", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if status != nil {
			for k, v := range status() {
				body[k] = v
			}
		}
		c.JSON(http.StatusOK, body)
	})
	r.GET("/metrics", append(metricsGuard, gin.WrapH(promhttp.Handler()))...)
	return r
}

// observeRequests logs and counts each request. Requests that match no route
// share one path label so scanners cannot grow the label set.
func observeRequests(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		elapsed := time.Since(start)
		RecordHTTPRequest(c.Request.Method, path, status, elapsed)

		event := logger.Debug()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		}
		event.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", elapsed).
			Msg("ops request")
	}
}
