package http

import (
	"net/http"
	"strings"
	"time"

	"cua/internal/logging"
	"cua/internal/observability"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

// corsConfig allows the configured origin patterns. A pattern may contain a
// single '*' wildcard, e.g. "chrome-extension://*" or "http://localhost:*".
func corsConfig(origins []string) cors.Config {
	config := cors.DefaultConfig()
	config.AllowOriginFunc = originMatcher(origins)
	config.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	config.AllowCredentials = true
	config.AllowWebSockets = true
	return config
}

func originMatcher(patterns []string) func(string) bool {
	return func(origin string) bool {
		for _, pattern := range patterns {
			pattern = strings.TrimSpace(pattern)
			if pattern == "*" {
				return true
			}
			prefix, suffix, wildcard := strings.Cut(pattern, "*")
			if !wildcard {
				if origin == pattern {
					return true
				}
				continue
			}
			if len(origin) >= len(prefix)+len(suffix) &&
				strings.HasPrefix(origin, prefix) &&
				strings.HasSuffix(origin[len(prefix):], suffix) {
				return true
			}
		}
		return false
	}
}

// tracingMiddleware opens a span per request. WebSocket upgrades are skipped;
// their lifetime is the connection's, not a request's.
func tracingMiddleware(tracer *observability.TracerProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tracer == nil || websocket.IsWebSocketUpgrade(c.Request) {
			c.Next()
			return
		}
		ctx, span := tracer.StartSpan(c.Request.Context(), observability.SpanHTTPRequest,
			attribute.String(observability.AttrMethod, c.Request.Method),
		)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		span.SetAttributes(
			attribute.String(observability.AttrRoute, routeOf(c)),
			attribute.Int(observability.AttrHTTPCode, c.Writer.Status()),
		)
		var err error
		if last := c.Errors.Last(); last != nil {
			err = last.Err
		}
		observability.EndSpan(span, err)
	}
}

// requestLogger writes one line per request. Health probes and status polls
// are logged at debug level.
func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := routeOf(c)
		latency := time.Since(start)
		log := logger.Info
		if route == "/health" || route == "/status/:id" || route == "/metrics" {
			log = logger.Debug
		}
		log("route=%s method=%s status=%d latency_ms=%.2f",
			route,
			c.Request.Method,
			c.Writer.Status(),
			float64(latency.Microseconds())/1000.0,
		)
	}
}

func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
