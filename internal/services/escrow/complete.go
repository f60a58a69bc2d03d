package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "tradepost/internal/errors"
	"tradepost/internal/models"
	"tradepost/internal/repositories"
	"tradepost/internal/services/gateway"
)

// ConfirmPickupComplete captures the held funds and completes the sale.
// A failed capture leaves the transaction in pickup_scheduled.
func (s *service) ConfirmPickupComplete(ctx context.Context, buyerID uint, transactionID string) (*models.Transaction, error) {
	tx, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.BuyerID != buyerID {
		if tx.SellerID == buyerID {
			return nil, apperrors.ErrNotBuyer
		}
		return nil, apperrors.ErrNotPartyToTransaction
	}

	switch tx.Status {
	case models.StatusPickupScheduled:
	case models.StatusCompleted, models.StatusPaidOut:
		return tx, nil
	case models.StatusCancelled, models.StatusDisputed:
		return nil, apperrors.ErrAlreadyTerminal
	default:
		return nil, apperrors.ErrInvalidStateForCompletion
	}

	// The claim blocks cancel and dispute until the capture is settled.
	claimed, err := s.store.Transactions().ClaimCapture(ctx, tx.ID, s.now())
	if err != nil {
		return nil, err
	}
	if !claimed {
		current, err := s.settled(ctx, tx.ID, apperrors.ErrInvalidStateForCompletion)
		if current != nil && (current.Status == models.StatusCompleted || current.Status == models.StatusPaidOut) {
			return current, nil
		}
		return nil, err
	}

	var intent *gateway.Intent
	err = s.callGateway(ctx, gateway.OpCapture, func(ctx context.Context) error {
		var err error
		intent, err = s.gateway.Capture(ctx, tx.ID, tx.PaymentIntentID)
		return err
	})
	if err != nil {
		s.logger.Warn("capture failed",
			slog.String("transaction_id", tx.ID),
			slog.String("outcome", string(gateway.OutcomeOf(err))),
			slog.Any("error", err))
		if !gateway.IsRetryable(err) {
			// Nothing moved; let the parties cancel or retry.
			releaseErr := s.store.Transactions().ReleaseCaptureClaim(context.WithoutCancel(ctx), tx.ID, s.now())
			s.metrics.RecordCompensation(CompensateReleaseClaim, releaseErr == nil)
			if releaseErr != nil {
				s.logger.Error("capture claim release failed",
					slog.String("transaction_id", tx.ID),
					slog.Any("error", releaseErr))
			}
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrCaptureFailed, err)
	}

	return s.commitCompletion(context.WithoutCancel(ctx), tx, intent)
}

// commitCompletion writes a confirmed capture to the ledger together with
// the listing sale and the seller's sale count.
func (s *service) commitCompletion(ctx context.Context, tx *models.Transaction, intent *gateway.Intent) (*models.Transaction, error) {
	now := s.now()
	fields := map[string]interface{}{
		"buyer_confirmed_at": now,
		"completed_at":       now,
		"capture_claimed_at": nil,
	}
	if intent != nil && intent.TransferID != "" {
		fields["transfer_id"] = intent.TransferID
	}

	err := s.store.ExecuteInTransaction(ctx, func(store repositories.Store) error {
		ok, err := store.Transactions().Apply(ctx, repositories.Transition{
			ID:     tx.ID,
			From:   []models.TransactionStatus{models.StatusPickupScheduled},
			To:     models.StatusCompleted,
			At:     now,
			Fields: fields,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errLedgerMoved
		}

		sold, err := store.Listings().SetStatus(ctx, tx.ListingID, models.ListingPending, models.ListingSold)
		if err != nil {
			return err
		}
		if !sold {
			s.breach(BreachListingNotPending, tx, "listing was not pending at completion")
		}

		err = store.Listings().IncrementSaleCount(ctx, tx.SellerID)
		if errors.Is(err, repositories.ErrSellerAccountNotFound) {
			s.logger.Warn("seller account missing at completion",
				slog.String("transaction_id", tx.ID),
				slog.Uint64("seller_id", uint64(tx.SellerID)))
			return nil
		}
		return err
	})

	if err != nil {
		current, loadErr := s.load(ctx, tx.ID)
		if loadErr == nil && (current.Status == models.StatusCompleted || current.Status == models.StatusPaidOut) {
			return current, nil
		}
		s.breach(BreachLedgerAfterCapture, tx, "capture succeeded but completion was not recorded", slog.Any("error", err))
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvariantBreach, err)
	}

	updated, err := s.load(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, models.EventTransactionCompleted, models.StatusPickupScheduled, updated)
	return updated, nil
}

// ResolveCaptureClaim settles a capture claim left behind by an
// interrupted completion, using the provider's view of the intent.
func (s *service) ResolveCaptureClaim(ctx context.Context, transactionID string) (*models.Transaction, error) {
	tx, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != models.StatusPickupScheduled || tx.CaptureClaimedAt == nil {
		return tx, nil
	}

	intent, err := s.intentStatus(ctx, tx.PaymentIntentID)
	if err != nil {
		return nil, gatewayFailure(err)
	}

	switch intent.Status {
	case gateway.IntentCaptured:
		return s.commitCompletion(ctx, tx, intent)
	case gateway.IntentAuthorized:
	default:
		s.logger.Warn("claimed transaction has no usable hold",
			slog.Bool("alert", true),
			slog.String("transaction_id", tx.ID),
			slog.String("intent_status", string(intent.Status)))
	}

	if err := s.store.Transactions().ReleaseCaptureClaim(ctx, tx.ID, s.now()); err != nil {
		s.metrics.RecordCompensation(CompensateReleaseClaim, false)
		return nil, err
	}
	s.metrics.RecordCompensation(CompensateReleaseClaim, true)
	return s.load(ctx, tx.ID)
}
