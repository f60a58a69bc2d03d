// Package repotest provides an in-memory SQLite database with the escrow
// schema plus seeding helpers for tests.
package repotest

import (
	"fmt"
	"testing"

	"tradepost/internal/models"
	"tradepost/internal/repositories"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NewDB opens an isolated in-memory database and migrates it. A single
// connection serializes statements the way row locks would in Postgres.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), repositories.GormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repositories.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Seller creates a user with a seller account. An empty payoutAccount
// leaves the seller unable to receive funds.
func Seller(t testing.TB, db *gorm.DB, id uint, name, payoutAccount string) {
	t.Helper()
	User(t, db, id, name)
	account := models.SellerAccount{UserID: id, PayoutAccountID: payoutAccount}
	if err := db.Create(&account).Error; err != nil {
		t.Fatalf("seed seller account: %v", err)
	}
}

// User creates an identity row.
func User(t testing.TB, db *gorm.DB, id uint, name string) {
	t.Helper()
	user := models.User{ID: id, DisplayName: name, Email: fmt.Sprintf("user%d@example.com", id)}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

// Listing creates an active listing.
func Listing(t testing.TB, db *gorm.DB, id string, sellerID uint, amount int64) {
	t.Helper()
	appraisal := "appr-" + id
	listing := models.Listing{
		ID:             id,
		SellerID:       sellerID,
		Title:          "Listing " + id,
		Amount:         amount,
		Currency:       "usd",
		Status:         models.ListingActive,
		AppraisalID:    &appraisal,
		AppraisedValue: amount + amount/10,
	}
	if err := db.Create(&listing).Error; err != nil {
		t.Fatalf("seed listing: %v", err)
	}
}

// ListingStatus reads the current status of a listing.
func ListingStatus(t testing.TB, db *gorm.DB, id string) models.ListingStatus {
	t.Helper()
	var listing models.Listing
	if err := db.Where("id = ?", id).First(&listing).Error; err != nil {
		t.Fatalf("load listing: %v", err)
	}
	return listing.Status
}

// SaleCount reads a seller's completed sale counter.
func SaleCount(t testing.TB, db *gorm.DB, sellerID uint) int64 {
	t.Helper()
	var account models.SellerAccount
	if err := db.Where("user_id = ?", sellerID).First(&account).Error; err != nil {
		t.Fatalf("load seller account: %v", err)
	}
	return account.SaleCount
}
