// Package reconcile repairs escrow state left behind by interrupted
// requests: unconfirmed authorizations, stuck capture claims, holds that
// were not released and listings reserved by a purchase that never landed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "tradepost/internal/errors"
	"tradepost/internal/logging"
	"tradepost/internal/models"
	"tradepost/internal/repositories"
	"tradepost/internal/services/escrow"
)

const (
	DefaultInterval       = 5 * time.Minute
	DefaultStaleAfter     = time.Hour
	DefaultClaimTimeout   = 15 * time.Minute
	DefaultHoldRetryAfter = time.Minute
	DefaultBatchSize      = 100
)

// Reconcile actions, used as metrics labels.
const (
	ActionConfirmAuthorization = "confirm_authorization"
	ActionExpireAuthorization  = "expire_authorization"
	ActionResolveClaim         = "resolve_claim"
	ActionReleaseHold          = "release_hold"
	ActionReleaseListing       = "release_listing"
)

type Config struct {
	Interval time.Duration
	// StaleAfter is how long a purchase may wait for the buyer's card.
	StaleAfter     time.Duration
	ClaimTimeout   time.Duration
	HoldRetryAfter time.Duration
	BatchSize      int
	Now            func() time.Time
}

type Metrics interface {
	RecordReconcile(action string, ok bool)
}

type noopMetrics struct{}

func (noopMetrics) RecordReconcile(string, bool) {}

// Report counts the repairs made by one pass.
type Report struct {
	Confirmed        int
	Expired          int
	ClaimsResolved   int
	HoldsReleased    int
	ListingsReleased int
}

type Reconciler struct {
	store   repositories.Store
	engine  escrow.Service
	config  Config
	metrics Metrics
	logger  *slog.Logger
}

func NewReconciler(store repositories.Store, engine escrow.Service, config Config, metrics Metrics, logger *slog.Logger) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = DefaultStaleAfter
	}
	if config.ClaimTimeout <= 0 {
		config.ClaimTimeout = DefaultClaimTimeout
	}
	if config.HoldRetryAfter <= 0 {
		config.HoldRetryAfter = DefaultHoldRetryAfter
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:   store,
		engine:  engine,
		config:  config,
		metrics: metrics,
		logger:  logging.Component(logger, "reconcile"),
	}
}

func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := r.Reconcile(ctx)
			if err != nil {
				r.logger.Error("reconcile pass failed", slog.Any("error", err))
				continue
			}
			if report != (Report{}) {
				r.logger.Info("reconcile pass",
					slog.Int("confirmed", report.Confirmed),
					slog.Int("expired", report.Expired),
					slog.Int("claims_resolved", report.ClaimsResolved),
					slog.Int("holds_released", report.HoldsReleased),
					slog.Int("listings_released", report.ListingsReleased))
			}
		}
	}
}

// Reconcile runs one pass. Individual repairs that fail are logged and
// retried on the next pass; only query failures are returned.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	var report Report
	now := r.config.Now().UTC()

	if err := r.settleStalePending(ctx, now, &report); err != nil {
		return report, err
	}
	if err := r.resolveClaims(ctx, now, &report); err != nil {
		return report, err
	}
	if err := r.releaseHolds(ctx, now, &report); err != nil {
		return report, err
	}
	if err := r.releaseOrphanedListings(ctx, now, &report); err != nil {
		return report, err
	}
	return report, nil
}

// settleStalePending moves forward purchases whose authorization webhook
// was missed and cancels the ones the buyer never authorized.
func (r *Reconciler) settleStalePending(ctx context.Context, now time.Time, report *Report) error {
	stale, err := r.store.Transactions().FindStale(ctx, models.StatusPending, now.Add(-r.config.StaleAfter), r.config.BatchSize)
	if err != nil {
		return fmt.Errorf("find stale pending: %w", err)
	}
	for _, tx := range stale {
		_, err := r.engine.ConfirmPaymentAuthorized(ctx, tx.ID, "")
		if err == nil {
			r.metrics.RecordReconcile(ActionConfirmAuthorization, true)
			report.Confirmed++
			continue
		}
		if !errors.Is(err, apperrors.ErrPaymentNotAuthorized) {
			r.fail(ActionConfirmAuthorization, tx.ID, err)
			continue
		}

		if _, err := r.engine.ExpireAuthorization(ctx, tx.ID, "authorization not completed"); err != nil {
			r.fail(ActionExpireAuthorization, tx.ID, err)
			continue
		}
		r.metrics.RecordReconcile(ActionExpireAuthorization, true)
		report.Expired++
	}
	return nil
}

func (r *Reconciler) resolveClaims(ctx context.Context, now time.Time, report *Report) error {
	claimed, err := r.store.Transactions().FindClaimedBefore(ctx, now.Add(-r.config.ClaimTimeout), r.config.BatchSize)
	if err != nil {
		return fmt.Errorf("find claimed: %w", err)
	}
	for _, tx := range claimed {
		if _, err := r.engine.ResolveCaptureClaim(ctx, tx.ID); err != nil {
			r.fail(ActionResolveClaim, tx.ID, err)
			continue
		}
		r.metrics.RecordReconcile(ActionResolveClaim, true)
		report.ClaimsResolved++
	}
	return nil
}

func (r *Reconciler) releaseHolds(ctx context.Context, now time.Time, report *Report) error {
	held, err := r.store.Transactions().FindUnreleasedHolds(ctx, now.Add(-r.config.HoldRetryAfter), r.config.BatchSize)
	if err != nil {
		return fmt.Errorf("find unreleased holds: %w", err)
	}
	for _, tx := range held {
		if err := r.engine.ReleaseHold(ctx, tx.ID); err != nil {
			r.fail(ActionReleaseHold, tx.ID, err)
			continue
		}
		r.metrics.RecordReconcile(ActionReleaseHold, true)
		report.HoldsReleased++
	}
	return nil
}

func (r *Reconciler) releaseOrphanedListings(ctx context.Context, now time.Time, report *Report) error {
	ids, err := r.store.Listings().FindOrphanedPending(ctx, now.Add(-r.config.StaleAfter), r.config.BatchSize)
	if err != nil {
		return fmt.Errorf("find orphaned listings: %w", err)
	}
	for _, id := range ids {
		ok, err := r.store.Listings().SetStatus(ctx, id, models.ListingPending, models.ListingActive)
		if err != nil {
			r.metrics.RecordReconcile(ActionReleaseListing, false)
			r.logger.Warn("listing release failed", slog.String("listing_id", id), slog.Any("error", err))
			continue
		}
		if ok {
			r.metrics.RecordReconcile(ActionReleaseListing, true)
			report.ListingsReleased++
			r.logger.Info("orphaned listing released", slog.String("listing_id", id))
		}
	}
	return nil
}

func (r *Reconciler) fail(action, transactionID string, err error) {
	r.metrics.RecordReconcile(action, false)
	r.logger.Warn("reconcile action failed",
		slog.String("action", action),
		slog.String("transaction_id", transactionID),
		slog.Any("error", err))
}
