package escrow

import (
	"context"
	"sync"
	"testing"

	apperrors "tradepost/internal/errors"
	"tradepost/internal/models"
	"tradepost/internal/repositories"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	mu    sync.Mutex
	views map[string]models.TransactionPartyView
}

func (c *mapCache) GetTransactionView(_ context.Context, id string) (*models.TransactionPartyView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	view, ok := c.views[id]
	if !ok {
		return nil, nil
	}
	return &view, nil
}

func (c *mapCache) CacheTransactionView(_ context.Context, view *models.TransactionPartyView) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.views == nil {
		c.views = make(map[string]models.TransactionPartyView)
	}
	c.views[view.ID] = *view
	return nil
}

func (c *mapCache) InvalidateTransaction(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.views, id)
	return nil
}

func TestRecordPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.scheduled(t)

	_, err := f.svc.RecordPayout(ctx, tx.ID, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidStateForPayout)

	_, err = f.svc.ConfirmPickupComplete(ctx, testBuyerID, tx.ID)
	require.NoError(t, err)

	paid, err := f.svc.RecordPayout(ctx, tx.ID, "tr_manual")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaidOut, paid.Status)
	require.NotNil(t, paid.PayoutAt)
	assert.Equal(t, "tr_manual", *paid.TransferID)

	again, err := f.svc.RecordPayout(ctx, tx.ID, "tr_other")
	require.NoError(t, err)
	assert.Equal(t, "tr_manual", *again.TransferID)

	_, err = f.svc.CancelTransaction(ctx, testBuyerID, tx.ID, "")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyTerminal)
}

func TestGetTransaction(t *testing.T) {
	f := newFixture(t)
	cache := &mapCache{}
	svc := NewService(f.store, f.gw, cache, nil, EscrowConfig{}, f.metrics)
	ctx := context.Background()
	tx := f.create(t, testBuyerID)

	view, err := svc.GetTransaction(ctx, testBuyerID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, view.ID)
	assert.Equal(t, "Bea Buyer", view.BuyerName)
	assert.Equal(t, "Sam Seller", view.SellerName)
	assert.Equal(t, "Listing "+testListingID, view.ListingTitle)
	require.NotNil(t, view.AppraisalID)
	assert.Equal(t, "appr-"+testListingID, *view.AppraisalID)

	_, err = svc.GetTransaction(ctx, testSellerID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.metrics.cacheMisses)
	assert.Zero(t, f.metrics.cacheHits)
	assert.Empty(t, cache.views)

	_, err = svc.GetTransaction(ctx, strangerID, tx.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotPartyToTransaction)

	_, err = svc.GetTransaction(ctx, testBuyerID, "missing")
	assert.ErrorIs(t, err, apperrors.ErrTransactionNotFound)

	_, err = svc.CancelTransaction(ctx, testBuyerID, tx.ID, "")
	require.NoError(t, err)
	view, err = svc.GetTransaction(ctx, testBuyerID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, view.Status)

	hits := f.metrics.cacheHits
	_, err = svc.GetTransaction(ctx, testSellerID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, hits+1, f.metrics.cacheHits)
}

func TestGetTransaction_LiveViewNotCached(t *testing.T) {
	f := newFixture(t)
	cache := &mapCache{}
	svc := NewService(f.store, f.gw, cache, nil, EscrowConfig{}, f.metrics)
	ctx := context.Background()
	tx := f.create(t, testBuyerID)

	// The transition below skips this cache, as if its invalidation ran
	// before the reader's cache write.
	view, err := svc.GetTransaction(ctx, testBuyerID, tx.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, view.Status)

	_, err = f.svc.CancelTransaction(ctx, testBuyerID, tx.ID, "")
	require.NoError(t, err)

	view, err = svc.GetTransaction(ctx, testBuyerID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, view.Status)
}

func TestListTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, testBuyerID)

	bought, err := f.svc.ListTransactions(ctx, testBuyerID, ListQuery{Role: repositories.RoleBuyer})
	require.NoError(t, err)
	assert.Equal(t, int64(1), bought.Total)
	require.Len(t, bought.Transactions, 1)
	assert.Equal(t, "Listing "+testListingID, bought.Transactions[0].ListingTitle)

	sold, err := f.svc.ListTransactions(ctx, testBuyerID, ListQuery{Role: repositories.RoleSeller})
	require.NoError(t, err)
	assert.Zero(t, sold.Total)
	assert.Empty(t, sold.Transactions)

	both, err := f.svc.ListTransactions(ctx, testSellerID, ListQuery{Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(1), both.Total)

	_, err = f.svc.ListTransactions(ctx, testBuyerID, ListQuery{Role: "admin"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidRequest)
}
