package escrow

import "time"

// Default configuration values
const (
	DefaultCurrency             = "usd"
	DefaultCompensationAttempts = 3
	DefaultRetryBackoff         = 200 * time.Millisecond
	DefaultGatewayTimeout       = 20 * time.Second
)

// MaxAmount caps a single purchase in minor units.
const MaxAmount int64 = 1_000_000_000

// Listing limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Compensation actions, used as metrics labels.
const (
	CompensateReleaseListing = "release_listing"
	CompensateCancelHold     = "cancel_hold"
	CompensateRefund         = "refund"
	CompensateReleaseClaim   = "release_claim"
)

// Invariant breach kinds, used as metrics labels.
const (
	BreachLedgerAfterCapture = "ledger_after_capture"
	BreachListingNotPending  = "listing_not_pending"
	BreachActiveDuplicate    = "active_duplicate"
)
