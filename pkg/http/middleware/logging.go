package middleware

import (
	"time"

	applogger "AlphaBlend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs every HTTP request at debug level and failed ones at warn.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			status := c.Response().Status
			fields := []applogger.Field{
				applogger.String("method", req.Method),
				applogger.String("path", c.Path()),
				applogger.Int("status", status),
				applogger.Duration("latency_ms", time.Since(start)),
				applogger.String("remote", c.RealIP()),
			}
			if err != nil || status >= 400 {
				if err != nil {
					fields = append(fields, applogger.Error(err))
				}
				l.Warn("http request", fields...)
				return err
			}
			l.Debug("http request", fields...)
			return nil
		}
	}
}
