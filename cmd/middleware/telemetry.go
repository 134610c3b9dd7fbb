package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/csye6225/webapp/internal/metrics"
)

// Telemetry records one API metric and writes one log line per request,
// whatever the outcome.
func Telemetry(recorder metrics.Recorder, logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		status := c.Writer.Status()
		api := APIName(c.Request.Method, c.FullPath())
		metrics.ObserveAPI(recorder, api, status, elapsed)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("api", api),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
			zap.String("client_ip", c.ClientIP()),
		}
		switch {
		case status >= 500:
			logger.Error("request", fields...)
		case status >= 400:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}

// APIName identifies a request for metrics as METHOD_route, with path
// parameters written as {name}. Requests that matched no route share one
// name so arbitrary paths cannot grow metric cardinality.
func APIName(method, route string) string {
	if route == "" {
		route = "unmatched"
	}
	parts := strings.Split(route, "/")
	for i, p := range parts {
		if strings.HasPrefix(p, ":") || strings.HasPrefix(p, "*") {
			parts[i] = "{" + p[1:] + "}"
		}
	}
	return method + "_" + strings.Join(parts, "/")
}
