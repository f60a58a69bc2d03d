package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	apperrors "tradepost/internal/errors"
	"tradepost/internal/models"
	"tradepost/internal/repositories/repotest"
	"tradepost/internal/services/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTransaction_Success(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreateTransaction(context.Background(), testBuyerID, "bea@example.com", CreateTransactionRequest{
		ListingID:   testListingID,
		Amount:      testPrice,
		PickupNotes: "  evenings only ",
	})
	require.NoError(t, err)

	tx := res.Transaction
	assert.False(t, res.Resumed)
	assert.NotEmpty(t, res.ClientSecret)
	assert.Equal(t, models.StatusPending, tx.Status)
	assert.Equal(t, testSellerID, tx.SellerID)
	assert.Equal(t, int64(300), tx.PlatformFee)
	assert.Equal(t, int64(11700), tx.SellerPayout)
	assert.Equal(t, int64(250), tx.FeeRateBps)
	assert.Equal(t, "usd", tx.Currency)
	assert.Equal(t, "evenings only", tx.PickupNotes)
	assert.Equal(t, testNow, tx.CreatedAt)

	stored := f.reload(t, tx.ID)
	assert.Equal(t, tx.PaymentIntentID, stored.PaymentIntentID)
	assert.Equal(t, models.ListingPending, repotest.ListingStatus(t, f.db, testListingID))
	assert.Equal(t, 1, f.gw.Calls(gateway.OpAuthorize))
	assert.Equal(t, []string{models.EventTransactionCreated}, f.events.types())
}

func TestCreateTransaction_Preconditions(t *testing.T) {
	f := newFixture(t)
	repotest.Seller(t, f.db, 4, "No Payout", "")
	repotest.Listing(t, f.db, "lst_nopayout", 4, 500)
	repotest.Seller(t, f.db, 5, "Bad Payout", "acct_unverified")
	repotest.Listing(t, f.db, "lst_badpayout", 5, 500)

	tests := []struct {
		name    string
		buyerID uint
		req     CreateTransactionRequest
		wantErr error
	}{
		{
			name:    "unknown listing",
			buyerID: testBuyerID,
			req:     CreateTransactionRequest{ListingID: "lst_missing", Amount: testPrice},
			wantErr: apperrors.ErrListingUnavailable,
		},
		{
			name:    "seller buys own listing",
			buyerID: testSellerID,
			req:     CreateTransactionRequest{ListingID: testListingID, Amount: testPrice},
			wantErr: apperrors.ErrSelfPurchase,
		},
		{
			name:    "amount differs from price",
			buyerID: testBuyerID,
			req:     CreateTransactionRequest{ListingID: testListingID, Amount: testPrice - 1},
			wantErr: apperrors.ErrAmountMismatch,
		},
		{
			name:    "zero amount",
			buyerID: testBuyerID,
			req:     CreateTransactionRequest{ListingID: testListingID},
			wantErr: apperrors.ErrInvalidAmount,
		},
		{
			name:    "blank listing id",
			buyerID: testBuyerID,
			req:     CreateTransactionRequest{ListingID: "  ", Amount: testPrice},
			wantErr: apperrors.ErrInvalidRequest,
		},
		{
			name:    "seller without payout account",
			buyerID: testBuyerID,
			req:     CreateTransactionRequest{ListingID: "lst_nopayout", Amount: 500},
			wantErr: apperrors.ErrSellerNotPayable,
		},
		{
			name:    "payout account rejected by provider",
			buyerID: testBuyerID,
			req:     CreateTransactionRequest{ListingID: "lst_badpayout", Amount: 500},
			wantErr: apperrors.ErrSellerNotPayable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.CreateTransaction(context.Background(), tt.buyerID, "", tt.req)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, models.ListingActive, repotest.ListingStatus(t, f.db, testListingID))
	assert.Equal(t, 0, f.gw.Calls(gateway.OpAuthorize))
}

func TestCreateTransaction_ResumesForSameBuyer(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.CreateTransaction(context.Background(), testBuyerID, "", CreateTransactionRequest{
		ListingID: testListingID,
		Amount:    testPrice,
	})
	require.NoError(t, err)

	again, err := f.svc.CreateTransaction(context.Background(), testBuyerID, "", CreateTransactionRequest{
		ListingID: testListingID,
		Amount:    testPrice,
	})
	require.NoError(t, err)
	assert.True(t, again.Resumed)
	assert.Equal(t, first.Transaction.ID, again.Transaction.ID)
	assert.Equal(t, first.ClientSecret, again.ClientSecret)
	assert.Equal(t, 1, f.gw.Calls(gateway.OpAuthorize))

	_, err = f.svc.CreateTransaction(context.Background(), otherBuyerID, "", CreateTransactionRequest{
		ListingID: testListingID,
		Amount:    testPrice,
	})
	assert.ErrorIs(t, err, apperrors.ErrListingUnavailable)
}

func TestCreateTransaction_ConcurrentBuyersOneWins(t *testing.T) {
	f := newFixture(t)

	const buyers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(buyerID uint) {
			defer wg.Done()
			<-start
			_, err := f.svc.CreateTransaction(context.Background(), buyerID, "", CreateTransactionRequest{
				ListingID: testListingID,
				Amount:    testPrice,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, apperrors.ErrListingUnavailable):
				conflicts++
			default:
				others = append(others, err)
			}
		}(uint(100 + i))
	}
	close(start)
	wg.Wait()

	assert.Empty(t, others)
	assert.Equal(t, 1, wins)
	assert.Equal(t, buyers-1, conflicts)

	var active int64
	require.NoError(t, f.db.Model(&models.Transaction{}).
		Where("listing_id = ? AND status IN ?", testListingID, []string{"pending", "payment_authorized", "pickup_scheduled"}).
		Count(&active).Error)
	assert.Equal(t, int64(1), active)
	assert.Equal(t, 1, f.gw.Calls(gateway.OpAuthorize))
}

func TestCreateTransaction_AuthorizeFailureReleasesListing(t *testing.T) {
	for _, outcome := range []gateway.Outcome{gateway.OutcomeFailedTerminal, gateway.OutcomeFailedRetryable} {
		t.Run(string(outcome), func(t *testing.T) {
			f := newFixture(t)
			f.gw.FailNext(gateway.OpAuthorize, outcome)

			_, err := f.svc.CreateTransaction(context.Background(), testBuyerID, "", CreateTransactionRequest{
				ListingID: testListingID,
				Amount:    testPrice,
			})
			require.ErrorIs(t, err, apperrors.ErrGateway)

			var gwErr *gateway.Error
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, outcome, gwErr.Outcome)

			assert.Equal(t, models.ListingActive, repotest.ListingStatus(t, f.db, testListingID))
			var count int64
			require.NoError(t, f.db.Model(&models.Transaction{}).Count(&count).Error)
			assert.Zero(t, count)
			assert.Equal(t, 1, f.metrics.compensations[CompensateReleaseListing])
		})
	}
}

func TestCreateTransaction_TimedOutAuthorizeVoidsHold(t *testing.T) {
	f := newFixture(t)
	f.gw.LoseNextAuthorize()

	_, err := f.svc.CreateTransaction(context.Background(), testBuyerID, "", CreateTransactionRequest{
		ListingID: testListingID,
		Amount:    testPrice,
	})
	require.ErrorIs(t, err, apperrors.ErrGateway)
	assert.True(t, gateway.IsRetryable(err))

	assert.Equal(t, 1, f.gw.Calls(gateway.OpAuthorize))
	assert.Equal(t, gateway.IntentCanceled, f.gw.IntentStatusOf("pi_sandbox_1"))
	assert.Equal(t, 1, f.metrics.compensations[CompensateCancelHold])
	assert.Equal(t, models.ListingActive, repotest.ListingStatus(t, f.db, testListingID))
}

func TestCreateTransaction_FreeOfFees(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store, f.gw, nil, nil, EscrowConfig{FeeRateBps: 0}, nil)

	res, err := svc.CreateTransaction(context.Background(), testBuyerID, "", CreateTransactionRequest{
		ListingID: testListingID,
		Amount:    testPrice,
	})
	require.NoError(t, err)
	assert.Zero(t, res.Transaction.FeeRateBps)
	assert.Zero(t, res.Transaction.PlatformFee)
	assert.Equal(t, testPrice, res.Transaction.SellerPayout)
}

func TestCreateTransaction_InsertFailureCancelsHold(t *testing.T) {
	f := newFixture(t)
	svc := f.newService(failingCreateStore{Store: f.store, err: fmt.Errorf("disk full")})

	_, err := svc.CreateTransaction(context.Background(), testBuyerID, "", CreateTransactionRequest{
		ListingID: testListingID,
		Amount:    testPrice,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	assert.Equal(t, gateway.IntentCanceled, f.gw.IntentStatusOf("pi_sandbox_1"))
	assert.Equal(t, models.ListingActive, repotest.ListingStatus(t, f.db, testListingID))
	assert.Equal(t, 1, f.metrics.compensations[CompensateCancelHold])
	assert.Equal(t, 1, f.metrics.compensations[CompensateReleaseListing])
	assert.Empty(t, f.events.types())

	// The listing is purchasable again.
	tx := f.create(t, otherBuyerID)
	assert.Equal(t, models.StatusPending, tx.Status)
}
