package repositories

import (
	"context"
	"errors"
	"fmt"

	"tradepost/internal/models"

	"gorm.io/gorm"
)

// SeedData is a seller with one listing plus a buyer, enough to walk a
// purchase through the sandbox gateway.
type SeedData struct {
	SellerID        uint
	SellerName      string
	SellerEmail     string
	PayoutAccountID string

	BuyerID    uint
	BuyerName  string
	BuyerEmail string

	ListingID    string
	ListingTitle string
	Amount       int64
	Currency     string
}

// Seed inserts the rows in one transaction. It reports false without
// changing anything when the listing already exists.
func Seed(ctx context.Context, db *gorm.DB, data SeedData) (bool, error) {
	if data.ListingID == "" || data.Amount <= 0 {
		return false, errors.New("seed needs a listing id and a positive amount")
	}

	created := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Listing
		err := tx.Where("id = ?", data.ListingID).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		seller := models.User{ID: data.SellerID, DisplayName: data.SellerName, Email: data.SellerEmail}
		if err := tx.Where(models.User{ID: data.SellerID}).FirstOrCreate(&seller).Error; err != nil {
			return fmt.Errorf("seed seller: %w", err)
		}
		account := models.SellerAccount{UserID: data.SellerID, PayoutAccountID: data.PayoutAccountID}
		if err := tx.Where(models.SellerAccount{UserID: data.SellerID}).FirstOrCreate(&account).Error; err != nil {
			return fmt.Errorf("seed seller account: %w", err)
		}
		buyer := models.User{ID: data.BuyerID, DisplayName: data.BuyerName, Email: data.BuyerEmail}
		if err := tx.Where(models.User{ID: data.BuyerID}).FirstOrCreate(&buyer).Error; err != nil {
			return fmt.Errorf("seed buyer: %w", err)
		}

		currency := data.Currency
		if currency == "" {
			currency = "usd"
		}
		listing := models.Listing{
			ID:             data.ListingID,
			SellerID:       data.SellerID,
			Title:          data.ListingTitle,
			Amount:         data.Amount,
			Currency:       currency,
			Status:         models.ListingActive,
			AppraisedValue: data.Amount,
		}
		if err := tx.Create(&listing).Error; err != nil {
			return fmt.Errorf("seed listing: %w", err)
		}
		created = true
		return nil
	})
	return created, err
}
