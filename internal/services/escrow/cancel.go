package escrow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	apperrors "tradepost/internal/errors"
	"tradepost/internal/models"
	"tradepost/internal/repositories"
	"tradepost/internal/services/gateway"
)

// CancelTransaction aborts an active transaction on behalf of a party. The
// ledger is committed first, guarded on no capture being in flight, so a
// cancel can never race a capture to a captured-and-cancelled state.
func (s *service) CancelTransaction(ctx context.Context, callerID uint, transactionID, reason string) (*models.Transaction, error) {
	tx, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !tx.IsParty(callerID) {
		return nil, apperrors.ErrNotPartyToTransaction
	}
	by := callerID
	return s.cancel(ctx, tx, &by, reason)
}

// ExpireAuthorization cancels a transaction whose hold lapsed or was
// voided at the provider. Already-terminal transactions are returned as is.
func (s *service) ExpireAuthorization(ctx context.Context, transactionID, reason string) (*models.Transaction, error) {
	tx, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status.IsTerminal() {
		return tx, nil
	}
	if reason == "" {
		reason = "authorization expired"
	}
	updated, err := s.cancel(ctx, tx, nil, reason)
	if errors.Is(err, apperrors.ErrAlreadyTerminal) {
		return s.load(ctx, transactionID)
	}
	return updated, err
}

func (s *service) cancel(ctx context.Context, tx *models.Transaction, by *uint, reason string) (*models.Transaction, error) {
	if tx.Status.IsTerminal() {
		return nil, apperrors.ErrAlreadyTerminal
	}
	if tx.CaptureClaimedAt != nil {
		return nil, apperrors.ErrCaptureInProgress
	}

	now := s.now()
	fields := map[string]interface{}{
		"cancelled_at":  now,
		"cancel_reason": strings.TrimSpace(reason),
		"cancelled_by":  nil,
	}
	if by != nil {
		fields["cancelled_by"] = *by
	}

	err := s.store.ExecuteInTransaction(ctx, func(store repositories.Store) error {
		ok, err := store.Transactions().Apply(ctx, repositories.Transition{
			ID:        tx.ID,
			From:      models.ActiveStatuses,
			To:        models.StatusCancelled,
			Unclaimed: true,
			At:        now,
			Fields:    fields,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errLedgerMoved
		}
		released, err := store.Listings().SetStatus(ctx, tx.ListingID, models.ListingPending, models.ListingActive)
		if err != nil {
			return err
		}
		if !released {
			s.breach(BreachListingNotPending, tx, "listing was not pending at cancellation")
		}
		return nil
	})
	if errors.Is(err, errLedgerMoved) {
		current, err := s.settled(ctx, tx.ID, nil)
		if current != nil && current.Status.IsTerminal() {
			return nil, apperrors.ErrAlreadyTerminal
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	updated, err := s.load(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, models.EventTransactionCancelled, tx.Status, updated)

	if err := s.releaseHoldFor(context.WithoutCancel(ctx), updated); err != nil {
		// The reconciler retries holds that were not released.
		s.logger.Error("hold release after cancellation failed",
			slog.Bool("alert", true),
			slog.String("transaction_id", updated.ID),
			slog.String("payment_intent_id", updated.PaymentIntentID),
			slog.Any("error", err))
	}
	return updated, nil
}

// ReleaseHold voids the authorization of a cancelled transaction. It is
// safe to call repeatedly.
func (s *service) ReleaseHold(ctx context.Context, transactionID string) error {
	tx, err := s.load(ctx, transactionID)
	if err != nil {
		return err
	}
	if tx.Status != models.StatusCancelled {
		return apperrors.ErrInvalidRequest
	}
	if tx.HoldReleasedAt != nil {
		return nil
	}
	return s.releaseHoldFor(ctx, tx)
}

// releaseHoldFor cancels the hold, or refunds it if the provider already
// captured, and records that the buyer's funds are free.
func (s *service) releaseHoldFor(ctx context.Context, tx *models.Transaction) error {
	intent, err := s.intentStatus(ctx, tx.PaymentIntentID)
	if err != nil {
		return err
	}

	switch intent.Status {
	case gateway.IntentCanceled:
	case gateway.IntentCaptured:
		s.logger.Warn("refunding captured payment of cancelled transaction",
			slog.Bool("alert", true),
			slog.String("transaction_id", tx.ID))
		err = s.withRetry(ctx, gateway.OpRefund, func(ctx context.Context) error {
			return s.gateway.Refund(ctx, tx.ID, tx.PaymentIntentID)
		})
		s.metrics.RecordCompensation(CompensateRefund, err == nil)
	default:
		err = s.withRetry(ctx, gateway.OpCancel, func(ctx context.Context) error {
			return s.gateway.CancelAuthorization(ctx, tx.ID, tx.PaymentIntentID)
		})
		s.metrics.RecordCompensation(CompensateCancelHold, err == nil)
	}
	if err != nil {
		return err
	}

	return s.store.Transactions().MarkHoldReleased(ctx, tx.ID, s.now())
}
