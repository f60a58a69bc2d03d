package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	apperrors "tradepost/internal/errors"
	"tradepost/internal/models"
	"tradepost/internal/repositories"
	"tradepost/internal/services/gateway"
)

// ConfirmPaymentAuthorized moves a pending transaction forward once the
// provider reports the hold as placed. Repeated confirmations are no-ops.
func (s *service) ConfirmPaymentAuthorized(ctx context.Context, transactionID, intentID string) (*models.Transaction, error) {
	tx, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if intentID != "" && intentID != tx.PaymentIntentID {
		s.logger.Warn("authorization confirmed for unexpected intent",
			slog.String("transaction_id", tx.ID),
			slog.String("expected", tx.PaymentIntentID),
			slog.String("got", intentID))
		return nil, apperrors.ErrPaymentNotAuthorized
	}

	switch tx.Status {
	case models.StatusPending:
	case models.StatusCancelled, models.StatusDisputed:
		return nil, apperrors.ErrAlreadyTerminal
	default:
		return tx, nil
	}

	intent, err := s.intentStatus(ctx, tx.PaymentIntentID)
	if err != nil {
		return nil, gatewayFailure(err)
	}
	if intent.Status != gateway.IntentAuthorized {
		return nil, apperrors.ErrPaymentNotAuthorized
	}

	ok, err := s.store.Transactions().Apply(ctx, repositories.Transition{
		ID:   tx.ID,
		From: []models.TransactionStatus{models.StatusPending},
		To:   models.StatusPaymentAuthorized,
		At:   s.now(),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.settled(ctx, tx.ID, nil)
		if current != nil && current.Status != models.StatusPending && !current.Status.IsTerminal() {
			return current, nil
		}
		return nil, err
	}

	updated, err := s.load(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, models.EventPaymentAuthorized, models.StatusPending, updated)
	return updated, nil
}

// SetPickupDetails records or replaces the pickup arrangement. Only the
// seller may call it, and only while the hold is in place.
func (s *service) SetPickupDetails(ctx context.Context, sellerID uint, transactionID string, details PickupDetails) (*models.Transaction, error) {
	address := strings.TrimSpace(details.Address)
	if address == "" {
		return nil, apperrors.ErrInvalidPickupAddress
	}

	tx, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.SellerID != sellerID {
		if tx.BuyerID == sellerID {
			return nil, apperrors.ErrNotSeller
		}
		return nil, apperrors.ErrNotPartyToTransaction
	}

	switch tx.Status {
	case models.StatusPaymentAuthorized, models.StatusPickupScheduled:
	case models.StatusCancelled, models.StatusDisputed:
		return nil, apperrors.ErrAlreadyTerminal
	default:
		return nil, apperrors.ErrInvalidStateForPickup
	}

	fields := map[string]interface{}{
		"pickup_address":      address,
		"pickup_scheduled_at": nil,
	}
	if details.ScheduledAt != nil {
		fields["pickup_scheduled_at"] = details.ScheduledAt.UTC()
	}
	if details.Notes != nil {
		fields["pickup_notes"] = strings.TrimSpace(*details.Notes)
	}

	ok, err := s.store.Transactions().Apply(ctx, repositories.Transition{
		ID:        tx.ID,
		From:      []models.TransactionStatus{models.StatusPaymentAuthorized, models.StatusPickupScheduled},
		To:        models.StatusPickupScheduled,
		Unclaimed: true,
		At:        s.now(),
		Fields:    fields,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		_, err := s.settled(ctx, tx.ID, apperrors.ErrInvalidStateForPickup)
		return nil, err
	}

	updated, err := s.load(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, models.EventPickupScheduled, tx.Status, updated)
	return updated, nil
}

// ConfirmSellerHandoff records that the seller handed the item over. It
// does not move money; the buyer's confirmation does.
func (s *service) ConfirmSellerHandoff(ctx context.Context, sellerID uint, transactionID string) (*models.Transaction, error) {
	tx, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.SellerID != sellerID {
		if tx.BuyerID == sellerID {
			return nil, apperrors.ErrNotSeller
		}
		return nil, apperrors.ErrNotPartyToTransaction
	}
	if tx.SellerConfirmedAt != nil {
		return tx, nil
	}
	if tx.Status != models.StatusPickupScheduled {
		return nil, apperrors.ErrInvalidStateForHandoff
	}

	ok, err := s.store.Transactions().MarkSellerConfirmed(ctx, tx.ID, s.now())
	if err != nil {
		return nil, err
	}
	updated, err := s.load(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if updated.SellerConfirmedAt != nil {
			return updated, nil
		}
		return nil, apperrors.ErrInvalidStateForHandoff
	}
	s.afterCommit(ctx, models.EventSellerHandoff, tx.Status, updated)
	return updated, nil
}

// EscalateDispute freezes an active transaction for manual review. The
// hold stays in place and the listing stays reserved.
func (s *service) EscalateDispute(ctx context.Context, transactionID, reason string) (*models.Transaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.ErrInvalidDisputeReason
	}

	tx, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !tx.Status.IsActive() {
		return nil, apperrors.ErrAlreadyTerminal
	}

	ok, err := s.store.Transactions().Apply(ctx, repositories.Transition{
		ID:        tx.ID,
		From:      models.ActiveStatuses,
		To:        models.StatusDisputed,
		Unclaimed: true,
		At:        s.now(),
		Fields:    map[string]interface{}{"dispute_reason": reason},
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		_, err := s.settled(ctx, tx.ID, nil)
		return nil, err
	}

	updated, err := s.load(ctx, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("reload disputed transaction: %w", err)
	}
	s.logger.Warn("transaction disputed",
		slog.Bool("alert", true),
		slog.String("transaction_id", updated.ID),
		slog.String("reason", reason))
	s.afterCommit(ctx, models.EventTransactionDisputed, tx.Status, updated)
	return updated, nil
}
