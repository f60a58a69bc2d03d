package gateway

import "context"

// Gateway is the payment provider seen by the escrow engine. Every mutating
// call carries an idempotency key derived from the transaction id, so a
// retried call never double-charges or double-releases.
//
// A nil error means the call succeeded. Failures are *Error values whose
// Outcome tells the caller whether retrying can help.
type Gateway interface {
	// Authorize places a manual-capture hold for the full amount, splitting
	// the platform fee from the seller's share.
	Authorize(ctx context.Context, req AuthorizeRequest) (*Intent, error)
	// Capture settles a held authorization.
	Capture(ctx context.Context, transactionID, intentID string) (*Intent, error)
	// CancelAuthorization releases a hold that was never captured.
	CancelAuthorization(ctx context.Context, transactionID, intentID string) error
	// Refund returns captured funds to the buyer.
	Refund(ctx context.Context, transactionID, intentID string) error
	// Status reads the live intent from the provider.
	Status(ctx context.Context, intentID string) (*Intent, error)
	// VerifyPayee checks the seller's destination can receive transfers.
	VerifyPayee(ctx context.Context, accountID string) error
}
