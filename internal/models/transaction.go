package models

import (
	"time"
)

// TransactionStatus is the escrow lifecycle state of a purchase.
type TransactionStatus string

const (
	StatusPending           TransactionStatus = "pending"
	StatusPaymentAuthorized TransactionStatus = "payment_authorized"
	StatusPickupScheduled   TransactionStatus = "pickup_scheduled"
	StatusCompleted         TransactionStatus = "completed"
	StatusPaidOut           TransactionStatus = "paid_out"
	StatusCancelled         TransactionStatus = "cancelled"
	StatusDisputed          TransactionStatus = "disputed"
)

// ActiveStatuses hold the listing reserved. At most one transaction per
// listing may be in one of them.
var ActiveStatuses = []TransactionStatus{
	StatusPending,
	StatusPaymentAuthorized,
	StatusPickupScheduled,
}

// ReservingStatuses keep the listing out of sale. A disputed transaction
// holds it until the dispute is resolved by hand.
var ReservingStatuses = append(append([]TransactionStatus{}, ActiveStatuses...), StatusDisputed)

// IsActive reports whether the transaction still reserves its listing.
func (s TransactionStatus) IsActive() bool {
	for _, active := range ActiveStatuses {
		if s == active {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no party-driven transition remains. A
// completed transaction is still moved to paid_out by the payout sweep.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusPaidOut, StatusCancelled, StatusDisputed:
		return true
	}
	return false
}

// Transaction is the ledger row for one escrowed purchase. Money fields are
// integer minor units of Currency.
type Transaction struct {
	ID              string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	ListingID       string            `gorm:"type:varchar(64);not null;index" json:"listing_id"`
	BuyerID         uint              `gorm:"not null;index" json:"buyer_id"`
	SellerID        uint              `gorm:"not null;index" json:"seller_id"`
	BuyerContact    string            `gorm:"type:varchar(255)" json:"-"`
	Amount          int64             `gorm:"not null" json:"amount"`
	PlatformFee     int64             `gorm:"not null" json:"platform_fee"`
	SellerPayout    int64             `gorm:"not null" json:"seller_payout"`
	FeeRateBps      int64             `gorm:"not null" json:"fee_rate_bps"`
	Currency        string            `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	PaymentIntentID string            `gorm:"type:varchar(255);not null;index" json:"payment_intent_id"`
	TransferID      *string           `gorm:"type:varchar(255)" json:"transfer_id,omitempty"`
	Status          TransactionStatus `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`

	PickupAddress     *string    `gorm:"type:text" json:"pickup_address,omitempty"`
	PickupScheduledAt *time.Time `json:"pickup_scheduled_at,omitempty"`
	PickupNotes       string     `gorm:"type:text" json:"pickup_notes,omitempty"`

	BuyerConfirmedAt  *time.Time `json:"buyer_confirmed_at,omitempty"`
	SellerConfirmedAt *time.Time `json:"seller_confirmed_at,omitempty"`
	CompletedAt       *time.Time `gorm:"index" json:"completed_at,omitempty"`
	PayoutAt          *time.Time `json:"payout_at,omitempty"`
	CaptureClaimedAt  *time.Time `json:"-"`

	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy    *uint      `json:"cancelled_by,omitempty"`
	CancelReason   string     `gorm:"type:text" json:"cancel_reason,omitempty"`
	HoldReleasedAt *time.Time `json:"-"`
	DisputeReason  string     `gorm:"type:text" json:"dispute_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// IsParty reports whether userID is the buyer or the seller.
func (t *Transaction) IsParty(userID uint) bool {
	return t.BuyerID == userID || t.SellerID == userID
}

// Settled reports whether the row can no longer change: paid out, or
// cancelled with the hold released.
func (t *Transaction) Settled() bool {
	switch t.Status {
	case StatusPaidOut:
		return true
	case StatusCancelled:
		return t.HoldReleasedAt != nil
	}
	return false
}

// TransactionListingView is a transaction joined with its listing summary.
type TransactionListingView struct {
	Transaction
	ListingTitle   string  `json:"listing_title"`
	AppraisalID    *string `json:"appraisal_id,omitempty"`
	AppraisedValue int64   `json:"appraised_value"`
}

// TransactionPartyView adds the display names of both parties.
type TransactionPartyView struct {
	TransactionListingView
	BuyerName  string `json:"buyer_name"`
	SellerName string `json:"seller_name"`
}
