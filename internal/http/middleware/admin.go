package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/SpeedDial/internal/http/util"
	"go.uber.org/zap"
)

const (
	AdminTokenHeader = "X-SD-Admin-Token"
	NonceHeader      = "X-SD-Nonce"
)

// RequireAdmin accepts "Authorization: Bearer <token>" or X-SD-Admin-Token.
// With no token configured every request is refused.
func RequireAdmin(token string, logger *zap.Logger) fiber.Handler {
	if token == "" {
		logger.Warn("admin token not configured; admin API is disabled")
	}
	expected := []byte(token)

	return func(c *fiber.Ctx) error {
		provided := c.Get(AdminTokenHeader)
		if auth := c.Get(fiber.HeaderAuthorization); provided == "" && len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
			provided = strings.TrimSpace(auth[7:])
		}

		if len(expected) == 0 || provided == "" || subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
			logger.Warn("admin request rejected",
				zap.String("path", c.Path()),
				zap.String("ip", ClientIP(c)),
				zap.String("request_id", requestID(c)),
			)
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "forbidden",
			})
		}
		return c.Next()
	}
}

// RequireNonce checks the X-SD-Nonce header against a nonce issued for action.
func RequireNonce(signer *util.NonceSigner, action string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		nonce := c.Get(NonceHeader)
		if nonce == "" {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "missing nonce",
			})
		}
		if err := signer.Validate(action, nonce); err != nil {
			msg := "invalid or expired nonce"
			if errors.Is(err, util.ErrMissingSecret) {
				msg = "nonce signing is not configured"
			}
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": msg,
			})
		}
		return c.Next()
	}
}
