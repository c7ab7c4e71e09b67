package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/SpeedDial/internal/app/service"
	"go.uber.org/zap"
)

// respondError maps service errors onto HTTP responses. Anything unrecognised
// is logged and reported as a generic 500.
func respondError(c *fiber.Ctx, logger *zap.Logger, op string, err error) error {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		status := fiber.StatusUnprocessableEntity
		if verr.Conflict {
			status = fiber.StatusConflict
		}
		body := fiber.Map{"error": verr.Message}
		if verr.Field != "" {
			body["field"] = verr.Field
		}
		return c.Status(status).JSON(body)
	case errors.Is(err, service.ErrEntryNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "entry not found",
		})
	case errors.Is(err, service.ErrNoChanges):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": service.ErrNoChanges.Error(),
		})
	case errors.Is(err, service.ErrInvalidNumber):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": service.ErrInvalidNumber.Error(),
		})
	case errors.Is(err, service.ErrImportTooLarge):
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	logger.Error(op+" failed",
		zap.Error(err),
		zap.String("path", c.Path()),
	)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal server error",
	})
}

func respondRateLimited(c *fiber.Ctx, window time.Duration) error {
	if secs := int(window.Seconds()); secs > 0 {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
	}
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error": service.ErrRateLimited.Error(),
	})
}
