package escrow

import (
	"context"

	"tradepost/internal/models"
)

// Service defines the escrow engine for marketplace purchases.
type Service interface {
	// Party operations
	CreateTransaction(ctx context.Context, buyerID uint, buyerContact string, req CreateTransactionRequest) (*CreateTransactionResult, error)
	SetPickupDetails(ctx context.Context, sellerID uint, transactionID string, details PickupDetails) (*models.Transaction, error)
	ConfirmSellerHandoff(ctx context.Context, sellerID uint, transactionID string) (*models.Transaction, error)
	ConfirmPickupComplete(ctx context.Context, buyerID uint, transactionID string) (*models.Transaction, error)
	CancelTransaction(ctx context.Context, callerID uint, transactionID, reason string) (*models.Transaction, error)

	// Read models
	GetTransaction(ctx context.Context, callerID uint, transactionID string) (*models.TransactionPartyView, error)
	ListTransactions(ctx context.Context, userID uint, query ListQuery) (*ListResult, error)

	// Gateway callbacks, admin actions and background workers
	ConfirmPaymentAuthorized(ctx context.Context, transactionID, intentID string) (*models.Transaction, error)
	EscalateDispute(ctx context.Context, transactionID, reason string) (*models.Transaction, error)
	ExpireAuthorization(ctx context.Context, transactionID, reason string) (*models.Transaction, error)
	ReleaseHold(ctx context.Context, transactionID string) error
	ResolveCaptureClaim(ctx context.Context, transactionID string) (*models.Transaction, error)
	RecordPayout(ctx context.Context, transactionID, transferID string) (*models.Transaction, error)
}

// TransactionCache stores party views between transitions.
type TransactionCache interface {
	GetTransactionView(ctx context.Context, id string) (*models.TransactionPartyView, error)
	CacheTransactionView(ctx context.Context, view *models.TransactionPartyView) error
	InvalidateTransaction(ctx context.Context, id string) error
}

// EventPublisher receives an event after each committed transition.
type EventPublisher interface {
	Publish(ctx context.Context, event models.TransactionEvent) error
}

// MetricsCollector defines the interface for collecting escrow metrics
type MetricsCollector interface {
	RecordTransition(from, to string)
	RecordGatewayCall(op, outcome string, seconds float64)
	RecordCompensation(action string, ok bool)
	RecordInvariantBreach(kind string)
	RecordCacheHit(hit bool)
}
