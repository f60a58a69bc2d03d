package models

import "time"

// Lifecycle event types published after a transition commits.
const (
	EventTransactionCreated   = "transaction.created"
	EventPaymentAuthorized    = "transaction.payment_authorized"
	EventPickupScheduled      = "transaction.pickup_scheduled"
	EventSellerHandoff        = "transaction.seller_handoff"
	EventTransactionCompleted = "transaction.completed"
	EventTransactionCancelled = "transaction.cancelled"
	EventTransactionDisputed  = "transaction.disputed"
	EventTransactionPaidOut   = "transaction.paid_out"
)

// TransactionEvent is the message emitted on every committed transition.
type TransactionEvent struct {
	Type          string            `json:"type"`
	TransactionID string            `json:"transaction_id"`
	ListingID     string            `json:"listing_id"`
	BuyerID       uint              `json:"buyer_id"`
	SellerID      uint              `json:"seller_id"`
	Status        TransactionStatus `json:"status"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// NewTransactionEvent snapshots a transaction for publishing.
func NewTransactionEvent(eventType string, tx *Transaction, at time.Time) TransactionEvent {
	return TransactionEvent{
		Type:          eventType,
		TransactionID: tx.ID,
		ListingID:     tx.ListingID,
		BuyerID:       tx.BuyerID,
		SellerID:      tx.SellerID,
		Status:        tx.Status,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		OccurredAt:    at,
	}
}
