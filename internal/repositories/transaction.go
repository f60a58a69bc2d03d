package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradepost/internal/models"

	"gorm.io/gorm"
)

// Transition is a guarded status change. It applies only while the row is
// in one of From, so two racing writers cannot both win.
type Transition struct {
	ID   string
	From []models.TransactionStatus
	To   models.TransactionStatus
	// Unclaimed additionally requires that no capture is in flight.
	Unclaimed bool
	At        time.Time
	Fields    map[string]interface{}
}

// Party roles accepted by ListByParty.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
)

type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) error
	FindByID(ctx context.Context, id string) (*models.Transaction, error)
	FindActiveByListing(ctx context.Context, listingID string) (*models.Transaction, error)

	Apply(ctx context.Context, t Transition) (bool, error)
	ClaimCapture(ctx context.Context, id string, at time.Time) (bool, error)
	ReleaseCaptureClaim(ctx context.Context, id string, at time.Time) error
	MarkSellerConfirmed(ctx context.Context, id string, at time.Time) (bool, error)
	MarkHoldReleased(ctx context.Context, id string, at time.Time) error

	GetPartyView(ctx context.Context, id string) (*models.TransactionPartyView, error)
	ListByParty(ctx context.Context, userID uint, role string, limit, offset int) ([]models.TransactionListingView, int64, error)

	FindCompletedBefore(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error)
	FindStale(ctx context.Context, status models.TransactionStatus, before time.Time, limit int) ([]models.Transaction, error)
	FindUnreleasedHolds(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error)
	FindClaimedBefore(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error)
}

type transactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrActiveTransactionExists
		}
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

func (r *transactionRepository) FindByID(ctx context.Context, id string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find transaction: %w", err)
	}
	return &tx, nil
}

func (r *transactionRepository) FindActiveByListing(ctx context.Context, listingID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).
		Where("listing_id = ? AND status IN ?", listingID, statusValues(models.ActiveStatuses)).
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find active transaction: %w", err)
	}
	return &tx, nil
}

// Apply reports false, without error, when the guard did not match.
func (r *transactionRepository) Apply(ctx context.Context, t Transition) (bool, error) {
	updates := make(map[string]interface{}, len(t.Fields)+2)
	for column, value := range t.Fields {
		updates[column] = value
	}
	updates["status"] = string(t.To)
	updates["updated_at"] = t.At

	q := r.db.WithContext(ctx).Model(&models.Transaction{}).Where("id = ?", t.ID)
	if len(t.From) > 0 {
		q = q.Where("status IN ?", statusValues(t.From))
	}
	if t.Unclaimed {
		q = q.Where("capture_claimed_at IS NULL")
	}

	res := q.Updates(updates)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, ErrActiveTransactionExists
		}
		return false, fmt.Errorf("transition %s to %s: %w", t.ID, t.To, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ClaimCapture marks a capture as in flight. It succeeds again for an
// existing claim so an interrupted capture can be retried.
func (r *transactionRepository) ClaimCapture(ctx context.Context, id string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, string(models.StatusPickupScheduled)).
		Updates(map[string]interface{}{
			"capture_claimed_at": gorm.Expr("COALESCE(capture_claimed_at, ?)", at),
			"updated_at":         at,
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim capture: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *transactionRepository) ReleaseCaptureClaim(ctx context.Context, id string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, string(models.StatusPickupScheduled)).
		Updates(map[string]interface{}{
			"capture_claimed_at": nil,
			"updated_at":         at,
		}).Error
	if err != nil {
		return fmt.Errorf("release capture claim: %w", err)
	}
	return nil
}

// MarkSellerConfirmed sets seller_confirmed_at once. It reports false when
// the row is not awaiting pickup or the handoff was already recorded.
func (r *transactionRepository) MarkSellerConfirmed(ctx context.Context, id string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ? AND seller_confirmed_at IS NULL", id, string(models.StatusPickupScheduled)).
		Updates(map[string]interface{}{
			"seller_confirmed_at": at,
			"updated_at":          at,
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark seller confirmed: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *transactionRepository) MarkHoldReleased(ctx context.Context, id string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND hold_released_at IS NULL", id).
		UpdateColumn("hold_released_at", at).Error
	if err != nil {
		return fmt.Errorf("mark hold released: %w", err)
	}
	return nil
}

const listingViewColumns = "transactions.*, " +
	"COALESCE(listings.title, '') AS listing_title, " +
	"listings.appraisal_id AS appraisal_id, " +
	"COALESCE(listings.appraised_value, 0) AS appraised_value"

func (r *transactionRepository) GetPartyView(ctx context.Context, id string) (*models.TransactionPartyView, error) {
	var view models.TransactionPartyView
	res := r.db.WithContext(ctx).
		Table("transactions").
		Select(listingViewColumns+", "+
			"COALESCE(buyers.display_name, '') AS buyer_name, "+
			"COALESCE(sellers.display_name, '') AS seller_name").
		Joins("LEFT JOIN listings ON listings.id = transactions.listing_id").
		Joins("LEFT JOIN users AS buyers ON buyers.id = transactions.buyer_id").
		Joins("LEFT JOIN users AS sellers ON sellers.id = transactions.seller_id").
		Where("transactions.id = ?", id).
		Limit(1).
		Scan(&view)
	if res.Error != nil {
		return nil, fmt.Errorf("get transaction view: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return &view, nil
}

func (r *transactionRepository) ListByParty(ctx context.Context, userID uint, role string, limit, offset int) ([]models.TransactionListingView, int64, error) {
	var total int64
	if err := r.partyQuery(ctx, userID, role).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	views := []models.TransactionListingView{}
	err := r.partyQuery(ctx, userID, role).
		Select(listingViewColumns).
		Order("transactions.created_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(&views).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	return views, total, nil
}

func (r *transactionRepository) partyQuery(ctx context.Context, userID uint, role string) *gorm.DB {
	q := r.db.WithContext(ctx).
		Table("transactions").
		Joins("LEFT JOIN listings ON listings.id = transactions.listing_id")
	switch role {
	case RoleBuyer:
		return q.Where("transactions.buyer_id = ?", userID)
	case RoleSeller:
		return q.Where("transactions.seller_id = ?", userID)
	default:
		return q.Where("transactions.buyer_id = ? OR transactions.seller_id = ?", userID, userID)
	}
}

func (r *transactionRepository) FindCompletedBefore(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND completed_at <= ?", string(models.StatusCompleted), before).
		Order("completed_at ASC").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("find completed transactions: %w", err)
	}
	return txs, nil
}

func (r *transactionRepository) FindStale(ctx context.Context, status models.TransactionStatus, before time.Time, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at <= ?", string(status), before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("find stale transactions: %w", err)
	}
	return txs, nil
}

func (r *transactionRepository) FindUnreleasedHolds(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND hold_released_at IS NULL AND updated_at <= ?", string(models.StatusCancelled), before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("find unreleased holds: %w", err)
	}
	return txs, nil
}

func (r *transactionRepository) FindClaimedBefore(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND capture_claimed_at IS NOT NULL AND capture_claimed_at <= ?",
			string(models.StatusPickupScheduled), before).
		Order("capture_claimed_at ASC").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("find claimed transactions: %w", err)
	}
	return txs, nil
}

func statusValues(statuses []models.TransactionStatus) []string {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	return values
}
