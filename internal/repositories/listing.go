package repositories

import (
	"context"
	"fmt"
	"time"

	"tradepost/internal/models"

	"gorm.io/gorm"
)

type ListingRepository interface {
	GetActiveListing(ctx context.Context, id string) (*models.ActiveListing, error)
	SetStatus(ctx context.Context, id string, from, to models.ListingStatus) (bool, error)
	IncrementSaleCount(ctx context.Context, sellerID uint) error
	FindOrphanedPending(ctx context.Context, before time.Time, limit int) ([]string, error)
}

type listingRepository struct {
	db *gorm.DB
}

func NewListingRepository(db *gorm.DB) ListingRepository {
	return &listingRepository{db: db}
}

type listingRow struct {
	ID              string
	SellerID        uint
	Amount          int64
	Currency        string
	Status          string
	PayoutAccountID string
}

// GetActiveListing returns ErrNotFound for unknown listings and
// ErrListingNotActive for listings that are pending, sold or cancelled.
func (r *listingRepository) GetActiveListing(ctx context.Context, id string) (*models.ActiveListing, error) {
	var row listingRow
	res := r.db.WithContext(ctx).
		Table("listings").
		Select("listings.id, listings.seller_id, listings.amount, listings.currency, listings.status, "+
			"COALESCE(seller_accounts.payout_account_id, '') AS payout_account_id").
		Joins("LEFT JOIN seller_accounts ON seller_accounts.user_id = listings.seller_id").
		Where("listings.id = ?", id).
		Limit(1).
		Scan(&row)
	if res.Error != nil {
		return nil, fmt.Errorf("get listing: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	if models.ListingStatus(row.Status) != models.ListingActive {
		return nil, ErrListingNotActive
	}
	return &models.ActiveListing{
		ListingID:         row.ID,
		SellerID:          row.SellerID,
		Amount:            row.Amount,
		Currency:          row.Currency,
		PayoutDestination: row.PayoutAccountID,
	}, nil
}

// SetStatus is a compare-and-swap on the listing status.
func (r *listingRepository) SetStatus(ctx context.Context, id string, from, to models.ListingStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("id = ? AND status = ?", id, string(from)).
		Update("status", string(to))
	if res.Error != nil {
		return false, fmt.Errorf("set listing %s %s->%s: %w", id, from, to, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *listingRepository) IncrementSaleCount(ctx context.Context, sellerID uint) error {
	res := r.db.WithContext(ctx).Model(&models.SellerAccount{}).
		Where("user_id = ?", sellerID).
		Update("sale_count", gorm.Expr("sale_count + ?", 1))
	if res.Error != nil {
		return fmt.Errorf("increment sale count: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSellerAccountNotFound
	}
	return nil
}

// FindOrphanedPending lists pending listings with no active or disputed
// transaction, left behind when a purchase failed between reservation and insert.
func (r *listingRepository) FindOrphanedPending(ctx context.Context, before time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("status = ? AND updated_at <= ?", string(models.ListingPending), before).
		Where("NOT EXISTS (SELECT 1 FROM transactions WHERE transactions.listing_id = listings.id AND transactions.status IN ?)",
			statusValues(models.ReservingStatuses)).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("find orphaned listings: %w", err)
	}
	return ids, nil
}
