package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// UnmatchedRoute is the path label for requests no route matched, so scanners
// cannot grow the label set.
const UnmatchedRoute = "unmatched"

func routeLabel(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return UnmatchedRoute
}

// RequestLogger logs each status API request, tagged with the radio session it
// was served from. sessionID may be nil.
func RequestLogger(logger zerolog.Logger, sessionID func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Debug()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		}
		if sessionID != nil {
			if id := sessionID(); id != "" {
				event = event.Str("session", id)
			}
		}
		event.
			Str("method", c.Request.Method).
			Str("route", routeLabel(c)).
			Str("url", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("status api request")
	}
}

// RequestMetrics records status API traffic under the radio label. Prometheus
// scrapes of metricsPath are not counted.
func RequestMetrics(radio, metricsPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := routeLabel(c)
		if route == metricsPath {
			return
		}
		RecordHTTPRequest(radio, c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
