package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"

	apperrors "tradepost/internal/errors"
	"tradepost/internal/logging"
	"tradepost/internal/services/escrow"
	"tradepost/internal/services/gateway"
	"tradepost/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
)

// EventVerifier checks a webhook signature and decodes the event.
type EventVerifier func(payload []byte, signature, secret string) (stripe.Event, error)

// StripeWebhookHandler turns provider notifications into engine calls.
type StripeWebhookHandler struct {
	escrow escrow.Service
	secret string
	verify EventVerifier
	logger *slog.Logger
}

func NewStripeWebhookHandler(escrowService escrow.Service, secret string, verify EventVerifier, logger *slog.Logger) *StripeWebhookHandler {
	if verify == nil {
		verify = webhook.ConstructEvent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		escrow: escrowService,
		secret: secret,
		verify: verify,
		logger: logging.Component(logger, "stripe_webhook"),
	}
}

// Handle acknowledges every correctly signed event. Events that cannot be
// applied are logged; the reconciler converges them.
func (h *StripeWebhookHandler) Handle(c *fiber.Ctx) error {
	event, err := h.verify(c.Body(), c.Get("Stripe-Signature"), h.secret)
	if err != nil {
		h.logger.Warn("webhook signature rejected", slog.Any("error", err))
		return response.BadRequest(c, "invalid signature")
	}

	switch event.Type {
	case "payment_intent.amount_capturable_updated", "payment_intent.canceled":
	default:
		return c.SendStatus(fiber.StatusOK)
	}

	var intent stripe.PaymentIntent
	if event.Data == nil {
		return response.BadRequest(c, "invalid payload")
	}
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		h.logger.Warn("webhook payload unreadable", slog.String("event_id", event.ID), slog.Any("error", err))
		return response.BadRequest(c, "invalid payload")
	}
	transactionID := intent.Metadata["transaction_id"]
	if transactionID == "" {
		h.logger.Info("webhook for intent without transaction", slog.String("intent_id", intent.ID))
		return c.SendStatus(fiber.StatusOK)
	}

	ctx := c.UserContext()
	switch event.Type {
	case "payment_intent.amount_capturable_updated":
		_, err = h.escrow.ConfirmPaymentAuthorized(ctx, transactionID, intent.ID)
	case "payment_intent.canceled":
		reason := "authorization canceled by provider"
		if intent.CancellationReason != "" {
			reason = reason + ": " + string(intent.CancellationReason)
		}
		_, err = h.escrow.ExpireAuthorization(ctx, transactionID, reason)
	}

	if err != nil {
		attrs := []any{
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type),
			slog.String("transaction_id", transactionID),
			slog.Any("error", err),
		}
		var (
			gwErr     *gateway.Error
			domainErr *apperrors.DomainError
		)
		switch {
		case errors.As(err, &gwErr) && gwErr.Retryable():
			h.logger.Warn("webhook deferred", attrs...)
			return response.Error(c, fiber.StatusServiceUnavailable, "provider unavailable")
		case errors.As(err, &domainErr):
			h.logger.Info("webhook not applied", attrs...)
		default:
			h.logger.Error("webhook processing failed", attrs...)
			return response.ServerError(c, "processing failed")
		}
	}
	return c.SendStatus(fiber.StatusOK)
}
