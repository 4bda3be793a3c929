// Package httpmiddleware holds the gin middleware chain of the API server.
package httpmiddleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// InjectLogger makes lg the base request logger returned by zctx.From.
func InjectLogger(lg *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(zctx.Base(c.Request.Context(), lg))
		c.Next()
	}
}

// LogRequests writes one access log line per request.
func LogRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.Int("size", c.Writer.Size()),
		}
		lg := zctx.From(c.Request.Context())
		if c.Writer.Status() >= 500 {
			lg.Warn("Request", fields...)
			return
		}
		lg.Info("Request", fields...)
	}
}

// Labeler adds the matched route template to the otelhttp metrics of the
// request.
func Labeler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l, ok := otelhttp.LabelerFromContext(c.Request.Context()); ok && c.FullPath() != "" {
			l.Add(attribute.String("http.route", c.FullPath()))
		}
		c.Next()
	}
}
