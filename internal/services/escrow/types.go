package escrow

import (
	"log/slog"
	"time"

	"tradepost/internal/models"
)

type CreateTransactionRequest struct {
	ListingID   string `json:"listing_id" validate:"required,max=64"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	PickupNotes string `json:"pickup_notes" validate:"max=1000"`
}

type CreateTransactionResult struct {
	Transaction  *models.Transaction `json:"transaction"`
	ClientSecret string              `json:"client_secret"`
	// Resumed is true when an earlier attempt by the same buyer was
	// returned instead of a new purchase.
	Resumed bool `json:"resumed"`
}

// PickupDetails replaces the pickup arrangement. A nil ScheduledAt clears
// the appointment; a nil Notes keeps the existing notes.
type PickupDetails struct {
	Address     string     `json:"pickup_address" validate:"required,max=500"`
	ScheduledAt *time.Time `json:"pickup_scheduled_at"`
	Notes       *string    `json:"pickup_notes" validate:"omitempty,max=1000"`
}

type ListQuery struct {
	Role   string
	Limit  int
	Offset int
}

type ListResult struct {
	Transactions []models.TransactionListingView `json:"transactions"`
	Total        int64                           `json:"total"`
}

// EscrowConfig holds escrow engine configuration.
type EscrowConfig struct {
	// FeeRateBps is the platform fee in basis points of the amount. Zero
	// charges no fee.
	FeeRateBps int64
	Currency   string
	// CompensationAttempts bounds retries of releasing a hold after a
	// failed step.
	CompensationAttempts int
	RetryBackoff         time.Duration
	GatewayTimeout       time.Duration
	Logger               *slog.Logger
	Now                  func() time.Time
}
