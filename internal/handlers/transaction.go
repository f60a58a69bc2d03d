package handlers

import (
	"strings"

	"tradepost/internal/middleware"
	"tradepost/internal/services/escrow"
	"tradepost/internal/utils/pagination"
	"tradepost/internal/utils/response"
	"tradepost/internal/utils/validation"

	"github.com/gofiber/fiber/v2"
)

type TransactionHandler struct {
	escrow    escrow.Service
	validator *validation.Validator
}

func NewTransactionHandler(escrowService escrow.Service, validator *validation.Validator) *TransactionHandler {
	if validator == nil {
		validator = validation.New()
	}
	return &TransactionHandler{escrow: escrowService, validator: validator}
}

func (h *TransactionHandler) CreateTransaction(c *fiber.Ctx) error {
	claims, ok := middleware.Claims(c)
	if !ok {
		return response.Unauthorized(c)
	}

	var input escrow.CreateTransactionRequest
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "invalid request format")
	}
	if err := h.validator.Struct(input); err != nil {
		return response.ValidationError(c, err)
	}

	result, err := h.escrow.CreateTransaction(c.UserContext(), claims.UserID, claims.Email, input)
	if err != nil {
		return response.FromError(c, err)
	}
	if result.Resumed {
		return response.Success(c, "transaction already in progress", result)
	}
	return response.Created(c, "transaction created", result)
}

func (h *TransactionHandler) ListTransactions(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return response.Unauthorized(c)
	}

	page := pagination.ParseFromRequest(c)
	result, err := h.escrow.ListTransactions(c.UserContext(), userID, escrow.ListQuery{
		Role:   strings.ToLower(c.Query("role")),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	page.Total = result.Total
	return c.JSON(pagination.Response(page, result.Transactions))
}

func (h *TransactionHandler) GetTransaction(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return response.Unauthorized(c)
	}

	view, err := h.escrow.GetTransaction(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "transaction retrieved", view)
}

// ConfirmAuthorization lets the client report a completed card
// authorization without waiting for the provider webhook.
func (h *TransactionHandler) ConfirmAuthorization(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return response.Unauthorized(c)
	}

	var input struct {
		PaymentIntentID string `json:"payment_intent_id"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&input); err != nil {
			return response.BadRequest(c, "invalid request format")
		}
	}

	id := c.Params("id")
	if _, err := h.escrow.GetTransaction(c.UserContext(), userID, id); err != nil {
		return response.FromError(c, err)
	}
	tx, err := h.escrow.ConfirmPaymentAuthorized(c.UserContext(), id, input.PaymentIntentID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "payment authorized", tx)
}

func (h *TransactionHandler) SetPickupDetails(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return response.Unauthorized(c)
	}

	var input escrow.PickupDetails
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "invalid request format")
	}
	if err := h.validator.Struct(input); err != nil {
		return response.ValidationError(c, err)
	}

	tx, err := h.escrow.SetPickupDetails(c.UserContext(), userID, c.Params("id"), input)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "pickup scheduled", tx)
}

func (h *TransactionHandler) ConfirmHandoff(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return response.Unauthorized(c)
	}

	tx, err := h.escrow.ConfirmSellerHandoff(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "handoff confirmed", tx)
}

func (h *TransactionHandler) ConfirmPickup(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return response.Unauthorized(c)
	}

	tx, err := h.escrow.ConfirmPickupComplete(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "transaction completed", tx)
}

func (h *TransactionHandler) CancelTransaction(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return response.Unauthorized(c)
	}

	var input struct {
		Reason string `json:"reason" validate:"max=1000"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&input); err != nil {
			return response.BadRequest(c, "invalid request format")
		}
	}
	if err := h.validator.Struct(input); err != nil {
		return response.ValidationError(c, err)
	}

	tx, err := h.escrow.CancelTransaction(c.UserContext(), userID, c.Params("id"), input.Reason)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "transaction cancelled", tx)
}

// EscalateDispute is an admin action.
func (h *TransactionHandler) EscalateDispute(c *fiber.Ctx) error {
	var input struct {
		Reason string `json:"reason" validate:"required,max=1000"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "invalid request format")
	}
	if err := h.validator.Struct(input); err != nil {
		return response.ValidationError(c, err)
	}

	tx, err := h.escrow.EscalateDispute(c.UserContext(), c.Params("id"), input.Reason)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "transaction disputed", tx)
}

// ReleaseHold retries releasing the buyer's funds for a cancelled
// transaction. Admin only.
func (h *TransactionHandler) ReleaseHold(c *fiber.Ctx) error {
	if err := h.escrow.ReleaseHold(c.UserContext(), c.Params("id")); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "hold released", nil)
}
