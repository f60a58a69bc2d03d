package escrow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	apperrors "tradepost/internal/errors"
	"tradepost/internal/models"
	"tradepost/internal/repositories"
)

// RecordPayout marks a completed transaction as paid out to the seller.
func (s *service) RecordPayout(ctx context.Context, transactionID, transferID string) (*models.Transaction, error) {
	tx, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	switch tx.Status {
	case models.StatusCompleted:
	case models.StatusPaidOut:
		return tx, nil
	default:
		return nil, apperrors.ErrInvalidStateForPayout
	}

	now := s.now()
	fields := map[string]interface{}{"payout_at": now}
	if transferID = strings.TrimSpace(transferID); transferID != "" {
		fields["transfer_id"] = transferID
	}
	ok, err := s.store.Transactions().Apply(ctx, repositories.Transition{
		ID:     tx.ID,
		From:   []models.TransactionStatus{models.StatusCompleted},
		To:     models.StatusPaidOut,
		At:     now,
		Fields: fields,
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.load(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if updated.Status == models.StatusPaidOut {
			return updated, nil
		}
		return nil, apperrors.ErrInvalidStateForPayout
	}
	s.afterCommit(ctx, models.EventTransactionPaidOut, models.StatusCompleted, updated)
	return updated, nil
}

// GetTransaction returns the transaction with listing and party details.
// Only the buyer and the seller may read it.
func (s *service) GetTransaction(ctx context.Context, callerID uint, transactionID string) (*models.TransactionPartyView, error) {
	view, err := s.cache.GetTransactionView(ctx, transactionID)
	if err != nil {
		s.logger.Warn("cache read failed", slog.String("transaction_id", transactionID), slog.Any("error", err))
		view = nil
	}
	s.metrics.RecordCacheHit(view != nil)

	if view == nil {
		view, err = s.store.Transactions().GetPartyView(ctx, transactionID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return nil, apperrors.ErrTransactionNotFound
			}
			return nil, err
		}
		// Only settled views are cached. A live view written here could
		// land after a concurrent transition's invalidation.
		if view.Settled() {
			if err := s.cache.CacheTransactionView(ctx, view); err != nil {
				s.logger.Warn("cache write failed", slog.String("transaction_id", transactionID), slog.Any("error", err))
			}
		}
	}

	if !view.IsParty(callerID) {
		return nil, apperrors.ErrNotPartyToTransaction
	}
	return view, nil
}

// ListTransactions pages through the caller's purchases and sales, newest
// first. An empty role lists both.
func (s *service) ListTransactions(ctx context.Context, userID uint, query ListQuery) (*ListResult, error) {
	switch query.Role {
	case "", repositories.RoleBuyer, repositories.RoleSeller:
	default:
		return nil, apperrors.ErrInvalidRequest
	}

	limit := query.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	views, total, err := s.store.Transactions().ListByParty(ctx, userID, query.Role, limit, offset)
	if err != nil {
		return nil, err
	}
	return &ListResult{Transactions: views, Total: total}, nil
}
