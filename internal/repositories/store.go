package repositories

import (
	"context"

	"gorm.io/gorm"
)

// Store groups the repositories that must change together. Repositories
// handed to the ExecuteInTransaction callback share one database
// transaction.
type Store interface {
	Transactions() TransactionRepository
	Listings() ListingRepository
	ExecuteInTransaction(ctx context.Context, fn func(tx Store) error) error
}

type gormStore struct {
	db           *gorm.DB
	transactions TransactionRepository
	listings     ListingRepository
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{
		db:           db,
		transactions: NewTransactionRepository(db),
		listings:     NewListingRepository(db),
	}
}

func (s *gormStore) Transactions() TransactionRepository { return s.transactions }

func (s *gormStore) Listings() ListingRepository { return s.listings }

func (s *gormStore) ExecuteInTransaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
