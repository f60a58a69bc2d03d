package repositories

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrNotFound                = errors.New("record not found")
	ErrListingNotActive        = errors.New("listing is not active")
	ErrActiveTransactionExists = errors.New("listing already has an active transaction")
	ErrSellerAccountNotFound   = errors.New("seller account not found")
)

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
