package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/SpeedDial/internal/http/util"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LocalClientIP is the fiber.Ctx locals key holding the resolved client address.
const LocalClientIP = "client_ip"

// ClientIP resolves the caller address once and stores it for later handlers.
func ClientIP(c *fiber.Ctx) string {
	if ip, ok := c.Locals(LocalClientIP).(string); ok && ip != "" {
		return ip
	}
	ip := util.ClientIP(func(name string) string { return c.Get(name) }, c.Context().RemoteAddr().String())
	c.Locals(LocalClientIP, ip)
	return ip
}

// Logger writes one access log line per request; 5xx at error level, 4xx at warn.
func Logger(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", ClientIP(c)),
			zap.String("user_agent", c.Get(fiber.HeaderUserAgent)),
			zap.String("request_id", requestID(c)),
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}

		level := zapcore.InfoLevel
		switch {
		case status >= fiber.StatusInternalServerError:
			level = zapcore.ErrorLevel
		case status >= fiber.StatusBadRequest:
			level = zapcore.WarnLevel
		}
		if ce := logger.Check(level, "request"); ce != nil {
			ce.Write(fields...)
		}

		return err
	}
}
