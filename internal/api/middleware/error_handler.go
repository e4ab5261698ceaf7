package middleware

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/saturnino-fabrica-de-software/sentinela/internal/domain"
)

// ErrorHandler maps errors bubbling out of handlers onto the API's error
// envelope. Domain errors carry their own code and status; anything else is
// masked as an internal error so callers never see raw error strings.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		reqID, _ := c.Locals(requestid.ConfigDefault.ContextKey).(string)

		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			if appErr.StatusCode >= 500 {
				logger.Error("request failed",
					slog.String("request_id", reqID),
					slog.String("method", c.Method()),
					slog.String("path", c.Path()),
					slog.String("code", appErr.Code),
					slog.Any("error", appErr.Err),
				)
			}
			return writeError(c, appErr.StatusCode, appErr.Code, appErr.Message, reqID)
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return writeError(c, fiberErr.Code, "HTTP_ERROR", fiberErr.Message, reqID)
		}

		logger.Error("unhandled error",
			slog.String("request_id", reqID),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Any("error", err),
		)
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", reqID)
	}
}

func writeError(c *fiber.Ctx, status int, code, message, reqID string) error {
	body := fiber.Map{
		"code":    code,
		"message": message,
	}
	if reqID != "" {
		body["request_id"] = reqID
	}
	return c.Status(status).JSON(fiber.Map{"error": body})
}
