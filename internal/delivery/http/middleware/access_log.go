package middleware

import (
	"log"
	"time"

	"casewatch/internal/health"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

type AccessLogMiddleware struct {
	logger  *log.Logger
	latency *health.LatencyRecorder
}

func NewAccessLogMiddleware(logger *log.Logger, latency *health.LatencyRecorder) *AccessLogMiddleware {
	if logger == nil {
		logger = log.Default()
	}
	return &AccessLogMiddleware{logger: logger, latency: latency}
}

func (m *AccessLogMiddleware) Middleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		rid := c.Get("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
			c.Set("X-Request-ID", rid)
		}

		err := c.Next()

		dur := time.Since(start)
		status := c.Response().StatusCode()

		if m != nil && m.latency != nil {
			m.latency.Observe(dur)
		}

		if m != nil && m.logger != nil {
			m.logger.Printf(
				"HTTP access | rid=%s ip=%s method=%s path=%s status=%d latency=%s ua=%q",
				rid, c.IP(), c.Method(), c.OriginalURL(), status, dur, c.Get("User-Agent"),
			)
		}

		return err
	}
}
