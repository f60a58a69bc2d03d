package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	apperrors "tradepost/internal/errors"
	"tradepost/internal/logging"
	"tradepost/internal/models"
	"tradepost/internal/repositories"
	"tradepost/internal/services/gateway"

	"github.com/google/uuid"
)

// CreateTransaction reserves the listing, authorizes the buyer's payment and
// records the purchase as pending. The listing flip active->pending is the
// serialization point: only one buyer can win it.
func (s *service) CreateTransaction(ctx context.Context, buyerID uint, buyerContact string, req CreateTransactionRequest) (*CreateTransactionResult, error) {
	listingID := strings.TrimSpace(req.ListingID)
	if listingID == "" {
		return nil, apperrors.ErrInvalidRequest
	}
	if req.Amount <= 0 || req.Amount > MaxAmount {
		return nil, apperrors.ErrInvalidAmount
	}

	listing, err := s.store.Listings().GetActiveListing(ctx, listingID)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return nil, apperrors.ErrListingUnavailable
	case errors.Is(err, repositories.ErrListingNotActive):
		return s.resumePurchase(ctx, buyerID, listingID)
	case err != nil:
		return nil, fmt.Errorf("load listing: %w", err)
	}

	if listing.SellerID == buyerID {
		return nil, apperrors.ErrSelfPurchase
	}
	if req.Amount != listing.Amount {
		return nil, apperrors.ErrAmountMismatch
	}
	if err := s.verifyPayee(ctx, listing.PayoutDestination); err != nil {
		return nil, err
	}

	fee, payout := s.fees.Split(req.Amount)
	currency := listing.Currency
	if currency == "" {
		currency = s.config.Currency
	}

	reserved, err := s.store.Listings().SetStatus(ctx, listingID, models.ListingActive, models.ListingPending)
	if err != nil {
		return nil, fmt.Errorf("reserve listing: %w", err)
	}
	if !reserved {
		return s.resumePurchase(ctx, buyerID, listingID)
	}

	txID := uuid.NewString()
	authReq := gateway.AuthorizeRequest{
		TransactionID: txID,
		ListingID:     listingID,
		BuyerID:       buyerID,
		SellerID:      listing.SellerID,
		Amount:        req.Amount,
		PlatformFee:   fee,
		Currency:      currency,
		PayeeAccount:  listing.PayoutDestination,
		ReceiptEmail:  buyerContact,
	}
	var intent *gateway.Intent
	err = s.callGateway(ctx, gateway.OpAuthorize, func(ctx context.Context) error {
		var err error
		intent, err = s.gateway.Authorize(ctx, authReq)
		return err
	})
	if err != nil {
		s.logger.Warn("authorization failed",
			slog.String("transaction_id", txID),
			slog.String("listing_id", listingID),
			slog.String("outcome", string(gateway.OutcomeOf(err))),
			slog.Any("error", err))
		compensateCtx := context.WithoutCancel(ctx)
		if gateway.IsRetryable(err) {
			s.voidUncertainAuthorization(compensateCtx, authReq)
		}
		s.releaseListing(compensateCtx, listingID)
		return nil, gatewayFailure(err)
	}

	now := s.now()
	tx := &models.Transaction{
		ID:              txID,
		ListingID:       listingID,
		BuyerID:         buyerID,
		SellerID:        listing.SellerID,
		BuyerContact:    buyerContact,
		Amount:          req.Amount,
		PlatformFee:     fee,
		SellerPayout:    payout,
		FeeRateBps:      s.fees.RateBps(),
		Currency:        currency,
		PaymentIntentID: intent.ID,
		Status:          models.StatusPending,
		PickupNotes:     strings.TrimSpace(req.PickupNotes),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.Transactions().Create(ctx, tx); err != nil {
		compensateCtx := context.WithoutCancel(ctx)
		s.cancelOrphanedHold(compensateCtx, tx)
		if errors.Is(err, repositories.ErrActiveTransactionExists) {
			// The listing was active while another purchase was open; leave
			// it reserved for that purchase.
			s.breach(BreachActiveDuplicate, tx, "active transaction existed for an active listing")
			return nil, apperrors.ErrDuplicateActiveTransaction
		}
		s.releaseListing(compensateCtx, listingID)
		return nil, fmt.Errorf("record transaction: %w", err)
	}

	s.logger.Info("purchase started",
		slog.String("transaction_id", tx.ID),
		slog.String("listing_id", tx.ListingID),
		slog.String("payment_intent_id", tx.PaymentIntentID),
		slog.String("buyer_contact", logging.MaskValue(tx.BuyerContact)))
	s.afterCommit(ctx, models.EventTransactionCreated, "", tx)
	return &CreateTransactionResult{Transaction: tx, ClientSecret: intent.ClientSecret}, nil
}

// resumePurchase makes a retried create idempotent on listing+buyer. Any
// other caller lost the race for the listing.
func (s *service) resumePurchase(ctx context.Context, buyerID uint, listingID string) (*CreateTransactionResult, error) {
	existing, err := s.store.Transactions().FindActiveByListing(ctx, listingID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.ErrListingUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("find active transaction: %w", err)
	}
	if existing.BuyerID != buyerID {
		return nil, apperrors.ErrListingUnavailable
	}

	result := &CreateTransactionResult{Transaction: existing, Resumed: true}
	if existing.Status == models.StatusPending {
		intent, err := s.intentStatus(ctx, existing.PaymentIntentID)
		if err != nil {
			return nil, gatewayFailure(err)
		}
		result.ClientSecret = intent.ClientSecret
	}
	return result, nil
}

func (s *service) verifyPayee(ctx context.Context, destination string) error {
	if strings.TrimSpace(destination) == "" {
		return apperrors.ErrSellerNotPayable
	}
	err := s.callGateway(ctx, gateway.OpPayee, func(ctx context.Context) error {
		return s.gateway.VerifyPayee(ctx, destination)
	})
	if err == nil {
		return nil
	}
	if gateway.IsRetryable(err) {
		return gatewayFailure(err)
	}
	return fmt.Errorf("%w: %w", apperrors.ErrSellerNotPayable, err)
}

// cancelOrphanedHold voids an authorization whose ledger row was never
// written.
// voidUncertainAuthorization cancels a hold a failed Authorize may still
// have created. Replaying under the same idempotency key returns that hold.
// Anything left over lapses at the provider.
func (s *service) voidUncertainAuthorization(ctx context.Context, req gateway.AuthorizeRequest) {
	var intent *gateway.Intent
	err := s.withRetry(ctx, gateway.OpAuthorize, func(ctx context.Context) error {
		var err error
		intent, err = s.gateway.Authorize(ctx, req)
		return err
	})
	if err != nil {
		s.logger.Warn("uncertain authorization left to lapse",
			slog.String("transaction_id", req.TransactionID),
			slog.Any("error", err))
		return
	}
	s.cancelOrphanedHold(ctx, &models.Transaction{ID: req.TransactionID, PaymentIntentID: intent.ID})
}

func (s *service) cancelOrphanedHold(ctx context.Context, tx *models.Transaction) {
	err := s.withRetry(ctx, gateway.OpCancel, func(ctx context.Context) error {
		return s.gateway.CancelAuthorization(ctx, tx.ID, tx.PaymentIntentID)
	})
	s.metrics.RecordCompensation(CompensateCancelHold, err == nil)
	if err != nil {
		s.logger.Error("orphaned authorization needs manual reconciliation",
			slog.Bool("alert", true),
			slog.String("transaction_id", tx.ID),
			slog.String("payment_intent_id", tx.PaymentIntentID),
			slog.Any("error", err))
	}
}
