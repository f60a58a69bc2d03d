package response

import (
	"errors"
	"log/slog"

	apperrors "tradepost/internal/errors"
	"tradepost/internal/services/gateway"

	"github.com/gofiber/fiber/v2"
)

func Success(c *fiber.Ctx, message string, data interface{}) error {
	return c.JSON(fiber.Map{
		"message": message,
		"data":    data,
	})
}

func Created(c *fiber.Ctx, message string, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": message,
		"data":    data,
	})
}

func Error(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, message)
}

func ServerError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, message)
}

func Unauthorized(c *fiber.Ctx) error {
	return Error(c, fiber.StatusUnauthorized, "unauthorized")
}

func ValidationError(c *fiber.Ctx, details interface{}) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   "validation failed",
		"code":    apperrors.ErrInvalidRequest.Code,
		"details": details,
	})
}

// FromError writes a domain error with its code. Anything else is logged
// and reported as an internal error without details.
func FromError(c *fiber.Ctx, err error) error {
	var domainErr *apperrors.DomainError
	if !errors.As(err, &domainErr) {
		slog.Error("unhandled error",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Any("error", err))
		return ServerError(c, "internal server error")
	}

	status := StatusFor(domainErr.Kind)
	if domainErr.Kind == apperrors.KindGateway && gateway.IsRetryable(err) {
		status = fiber.StatusServiceUnavailable
	}
	if status >= fiber.StatusInternalServerError {
		slog.Error("request failed",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("code", domainErr.Code),
			slog.Any("error", err))
	}

	body := fiber.Map{
		"error": domainErr.Message,
		"code":  domainErr.Code,
	}
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		body["retryable"] = gwErr.Retryable()
	}
	return c.Status(status).JSON(body)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation:
		return fiber.StatusBadRequest
	case apperrors.KindPrecondition:
		return fiber.StatusUnprocessableEntity
	case apperrors.KindForbidden:
		return fiber.StatusForbidden
	case apperrors.KindNotFound:
		return fiber.StatusNotFound
	case apperrors.KindConflict:
		return fiber.StatusConflict
	case apperrors.KindPayment:
		return fiber.StatusPaymentRequired
	case apperrors.KindGateway:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
