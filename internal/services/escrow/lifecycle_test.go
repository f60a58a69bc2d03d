package escrow

import (
	"context"
	"testing"
	"time"

	apperrors "tradepost/internal/errors"
	"tradepost/internal/models"
	"tradepost/internal/repositories/repotest"
	"tradepost/internal/services/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmPaymentAuthorized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.create(t, testBuyerID)

	t.Run("hold not placed yet", func(t *testing.T) {
		_, err := f.svc.ConfirmPaymentAuthorized(ctx, tx.ID, tx.PaymentIntentID)
		assert.ErrorIs(t, err, apperrors.ErrPaymentNotAuthorized)
		assert.Equal(t, models.StatusPending, f.reload(t, tx.ID).Status)
	})

	t.Run("wrong intent", func(t *testing.T) {
		_, err := f.svc.ConfirmPaymentAuthorized(ctx, tx.ID, "pi_other")
		assert.ErrorIs(t, err, apperrors.ErrPaymentNotAuthorized)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		_, err := f.svc.ConfirmPaymentAuthorized(ctx, "missing", "")
		assert.ErrorIs(t, err, apperrors.ErrTransactionNotFound)
	})

	t.Run("authorized", func(t *testing.T) {
		require.NoError(t, f.gw.ConfirmIntent(tx.PaymentIntentID))

		updated, err := f.svc.ConfirmPaymentAuthorized(ctx, tx.ID, tx.PaymentIntentID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPaymentAuthorized, updated.Status)
	})

	t.Run("repeated confirmation is a no-op", func(t *testing.T) {
		updated, err := f.svc.ConfirmPaymentAuthorized(ctx, tx.ID, tx.PaymentIntentID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPaymentAuthorized, updated.Status)
	})

	assert.Equal(t, []string{models.EventTransactionCreated, models.EventPaymentAuthorized}, f.events.types())
}

func TestConfirmPaymentAuthorized_CancelledIsTerminal(t *testing.T) {
	f := newFixture(t)
	tx := f.create(t, testBuyerID)
	_, err := f.svc.CancelTransaction(context.Background(), testBuyerID, tx.ID, "changed mind")
	require.NoError(t, err)

	_, err = f.svc.ConfirmPaymentAuthorized(context.Background(), tx.ID, tx.PaymentIntentID)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyTerminal)
}

func TestSetPickupDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.authorized(t)

	t.Run("buyer cannot set pickup", func(t *testing.T) {
		_, err := f.svc.SetPickupDetails(ctx, testBuyerID, tx.ID, PickupDetails{Address: "123 Main St"})
		assert.ErrorIs(t, err, apperrors.ErrNotSeller)
	})

	t.Run("stranger cannot set pickup", func(t *testing.T) {
		_, err := f.svc.SetPickupDetails(ctx, strangerID, tx.ID, PickupDetails{Address: "123 Main St"})
		assert.ErrorIs(t, err, apperrors.ErrNotPartyToTransaction)
	})

	t.Run("address required", func(t *testing.T) {
		_, err := f.svc.SetPickupDetails(ctx, testSellerID, tx.ID, PickupDetails{Address: "   "})
		assert.ErrorIs(t, err, apperrors.ErrInvalidPickupAddress)
	})

	t.Run("address without time", func(t *testing.T) {
		updated, err := f.svc.SetPickupDetails(ctx, testSellerID, tx.ID, PickupDetails{Address: "123 Main St"})
		require.NoError(t, err)
		assert.Equal(t, models.StatusPickupScheduled, updated.Status)
		require.NotNil(t, updated.PickupAddress)
		assert.Equal(t, "123 Main St", *updated.PickupAddress)
		assert.Nil(t, updated.PickupScheduledAt)
	})

	t.Run("reschedule with time and notes", func(t *testing.T) {
		when := time.Date(2026, 3, 4, 17, 30, 0, 0, time.FixedZone("EST", -5*3600))
		notes := "ring twice"
		updated, err := f.svc.SetPickupDetails(ctx, testSellerID, tx.ID, PickupDetails{
			Address:     "9 Elm St",
			ScheduledAt: &when,
			Notes:       &notes,
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusPickupScheduled, updated.Status)
		assert.Equal(t, "9 Elm St", *updated.PickupAddress)
		require.NotNil(t, updated.PickupScheduledAt)
		assert.True(t, when.Equal(*updated.PickupScheduledAt))
		assert.Equal(t, "ring twice", updated.PickupNotes)
	})

	t.Run("nil notes keep existing notes", func(t *testing.T) {
		updated, err := f.svc.SetPickupDetails(ctx, testSellerID, tx.ID, PickupDetails{Address: "9 Elm St"})
		require.NoError(t, err)
		assert.Equal(t, "ring twice", updated.PickupNotes)
		assert.Nil(t, updated.PickupScheduledAt)
	})
}

func TestSetPickupDetails_RequiresAuthorizedPayment(t *testing.T) {
	f := newFixture(t)
	tx := f.create(t, testBuyerID)

	_, err := f.svc.SetPickupDetails(context.Background(), testSellerID, tx.ID, PickupDetails{Address: "123 Main St"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidStateForPickup)
	assert.Equal(t, models.StatusPending, f.reload(t, tx.ID).Status)
}

func TestConfirmSellerHandoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.authorized(t)

	_, err := f.svc.ConfirmSellerHandoff(ctx, testSellerID, tx.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidStateForHandoff)

	tx, err = f.svc.SetPickupDetails(ctx, testSellerID, tx.ID, PickupDetails{Address: "123 Main St"})
	require.NoError(t, err)

	_, err = f.svc.ConfirmSellerHandoff(ctx, testBuyerID, tx.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotSeller)

	updated, err := f.svc.ConfirmSellerHandoff(ctx, testSellerID, tx.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.SellerConfirmedAt)
	assert.Equal(t, models.StatusPickupScheduled, updated.Status)

	again, err := f.svc.ConfirmSellerHandoff(ctx, testSellerID, tx.ID)
	require.NoError(t, err)
	assert.True(t, updated.SellerConfirmedAt.Equal(*again.SellerConfirmedAt))
	assert.Equal(t, 0, f.gw.Calls(gateway.OpCapture))
}

func TestConfirmPickupComplete_PendingRejected(t *testing.T) {
	f := newFixture(t)
	tx := f.create(t, testBuyerID)

	_, err := f.svc.ConfirmPickupComplete(context.Background(), testBuyerID, tx.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidStateForCompletion)
	assert.Equal(t, models.StatusPending, f.reload(t, tx.ID).Status)
	assert.Equal(t, 0, f.gw.Calls(gateway.OpCapture))
}

func TestConfirmPickupComplete_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.scheduled(t)

	_, err := f.svc.ConfirmPickupComplete(ctx, testSellerID, tx.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotBuyer)

	done, err := f.svc.ConfirmPickupComplete(ctx, testBuyerID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.BuyerConfirmedAt)
	assert.Nil(t, done.CaptureClaimedAt)
	require.NotNil(t, done.TransferID)
	assert.Equal(t, "tr_"+tx.PaymentIntentID, *done.TransferID)

	assert.Equal(t, models.ListingSold, repotest.ListingStatus(t, f.db, testListingID))
	assert.Equal(t, int64(1), repotest.SaleCount(t, f.db, testSellerID))
	assert.Equal(t, gateway.IntentCaptured, f.gw.IntentStatusOf(tx.PaymentIntentID))

	again, err := f.svc.ConfirmPickupComplete(ctx, testBuyerID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, again.Status)
	assert.Equal(t, 1, f.gw.Calls(gateway.OpCapture))
	assert.Equal(t, int64(1), repotest.SaleCount(t, f.db, testSellerID))
}

func TestConfirmPickupComplete_TerminalCaptureFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.scheduled(t)
	f.gw.FailNext(gateway.OpCapture, gateway.OutcomeFailedTerminal)

	_, err := f.svc.ConfirmPickupComplete(ctx, testBuyerID, tx.ID)
	require.ErrorIs(t, err, apperrors.ErrCaptureFailed)
	var gwErr *gateway.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, gateway.OutcomeFailedTerminal, gwErr.Outcome)

	stored := f.reload(t, tx.ID)
	assert.Equal(t, models.StatusPickupScheduled, stored.Status)
	assert.Nil(t, stored.CaptureClaimedAt)
	assert.Equal(t, models.ListingPending, repotest.ListingStatus(t, f.db, testListingID))
	assert.Equal(t, int64(0), repotest.SaleCount(t, f.db, testSellerID))

	done, err := f.svc.ConfirmPickupComplete(ctx, testBuyerID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
}

func TestConfirmPickupComplete_RetryableCaptureFailureKeepsClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.scheduled(t)
	f.gw.FailNext(gateway.OpCapture, gateway.OutcomeFailedRetryable)

	_, err := f.svc.ConfirmPickupComplete(ctx, testBuyerID, tx.ID)
	require.ErrorIs(t, err, apperrors.ErrCaptureFailed)

	stored := f.reload(t, tx.ID)
	assert.Equal(t, models.StatusPickupScheduled, stored.Status)
	assert.NotNil(t, stored.CaptureClaimedAt)

	_, err = f.svc.CancelTransaction(ctx, testSellerID, tx.ID, "buyer no-show")
	assert.ErrorIs(t, err, apperrors.ErrCaptureInProgress)
	_, err = f.svc.EscalateDispute(ctx, tx.ID, "item damaged")
	assert.ErrorIs(t, err, apperrors.ErrCaptureInProgress)

	done, err := f.svc.ConfirmPickupComplete(ctx, testBuyerID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Nil(t, done.CaptureClaimedAt)
}

func TestResolveCaptureClaim(t *testing.T) {
	ctx := context.Background()

	t.Run("captured at provider completes the sale", func(t *testing.T) {
		f := newFixture(t)
		tx := f.scheduled(t)
		ok, err := f.store.Transactions().ClaimCapture(ctx, tx.ID, testNow)
		require.NoError(t, err)
		require.True(t, ok)
		_, err = f.gw.Capture(ctx, tx.ID, tx.PaymentIntentID)
		require.NoError(t, err)

		resolved, err := f.svc.ResolveCaptureClaim(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, resolved.Status)
		assert.Equal(t, models.ListingSold, repotest.ListingStatus(t, f.db, testListingID))
		assert.Equal(t, int64(1), repotest.SaleCount(t, f.db, testSellerID))
	})

	t.Run("still authorized releases the claim", func(t *testing.T) {
		f := newFixture(t)
		tx := f.scheduled(t)
		ok, err := f.store.Transactions().ClaimCapture(ctx, tx.ID, testNow)
		require.NoError(t, err)
		require.True(t, ok)

		resolved, err := f.svc.ResolveCaptureClaim(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPickupScheduled, resolved.Status)
		assert.Nil(t, resolved.CaptureClaimedAt)

		_, err = f.svc.CancelTransaction(ctx, testBuyerID, tx.ID, "")
		assert.NoError(t, err)
	})
}

func TestEscalateDispute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.scheduled(t)

	_, err := f.svc.EscalateDispute(ctx, tx.ID, " ")
	assert.ErrorIs(t, err, apperrors.ErrInvalidDisputeReason)

	disputed, err := f.svc.EscalateDispute(ctx, tx.ID, "item not as described")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisputed, disputed.Status)
	assert.Equal(t, "item not as described", disputed.DisputeReason)
	assert.Equal(t, models.ListingPending, repotest.ListingStatus(t, f.db, testListingID))
	assert.Equal(t, gateway.IntentAuthorized, f.gw.IntentStatusOf(tx.PaymentIntentID))

	_, err = f.svc.CancelTransaction(ctx, testBuyerID, tx.ID, "")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyTerminal)
	_, err = f.svc.ConfirmPickupComplete(ctx, testBuyerID, tx.ID)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyTerminal)
	_, err = f.svc.EscalateDispute(ctx, tx.ID, "again")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyTerminal)
}
