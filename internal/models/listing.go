package models

import "time"

type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingPending   ListingStatus = "pending"
	ListingSold      ListingStatus = "sold"
	ListingCancelled ListingStatus = "cancelled"
)

// Listing is owned by the marketplace catalog. The escrow engine only reads
// it and moves its status between active, pending and sold.
type Listing struct {
	ID             string        `gorm:"type:varchar(64);primaryKey" json:"id"`
	SellerID       uint          `gorm:"not null;index" json:"seller_id"`
	Title          string        `gorm:"not null" json:"title"`
	Amount         int64         `gorm:"not null" json:"amount"`
	Currency       string        `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	Status         ListingStatus `gorm:"type:varchar(16);not null;default:'active';index" json:"status"`
	AppraisalID    *string       `gorm:"type:varchar(64)" json:"appraisal_id,omitempty"`
	AppraisedValue int64         `gorm:"default:0" json:"appraised_value"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// SellerAccount holds the seller's payout destination and sale counter.
type SellerAccount struct {
	UserID          uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	PayoutAccountID string    `gorm:"type:varchar(255)" json:"-"`
	SaleCount       int64     `gorm:"not null;default:0" json:"sale_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ActiveListing is what a purchase needs to know about a listing.
type ActiveListing struct {
	ListingID         string
	SellerID          uint
	Amount            int64
	Currency          string
	PayoutDestination string
}
