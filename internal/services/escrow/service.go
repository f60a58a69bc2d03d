package escrow

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
	"tradepost/internal/services/gateway"
)

// errLedgerMoved aborts a database transaction whose guarded update
// matched no row.
var errLedgerMoved = errors.New("ledger row changed concurrently")

type service struct {
	store   repositories.Store
	gateway gateway.Gateway
	cache   TransactionCache
	events  EventPublisher
	fees    *FeeCalculator
	config  EscrowConfig
	metrics MetricsCollector
	logger  *slog.Logger
}

// NewService creates a new escrow service
func NewService(
	store repositories.Store,
	gw gateway.Gateway,
	cache TransactionCache,
	events EventPublisher,
	config EscrowConfig,
	metrics MetricsCollector,
) Service {
	if store == nil {
		panic("store is required")
	}
	if gw == nil {
		panic("gateway is required")
	}

	if config.Currency == "" {
		config.Currency = DefaultCurrency
	}
	if config.CompensationAttempts <= 0 {
		config.CompensationAttempts = DefaultCompensationAttempts
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = DefaultRetryBackoff
	}
	if config.GatewayTimeout <= 0 {
		config.GatewayTimeout = DefaultGatewayTimeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	fees, err := NewFeeCalculator(config.FeeRateBps)
	if err != nil {
		panic(err)
	}

	// Cache, events and metrics are optional
	if cache == nil {
		cache = noopCache{}
	}
	if events == nil {
		events = noopPublisher{}
	}
	if metrics == nil {
		metrics = &NoopMetricsCollector{}
	}

	return &service{
		store:   store,
		gateway: gw,
		cache:   cache,
		events:  events,
		fees:    fees,
		config:  config,
		metrics: metrics,
		logger:  logging.Component(config.Logger, "escrow"),
	}
}

func (s *service) now() time.Time {
	return s.config.Now().UTC()
}

func (s *service) load(ctx context.Context, id string) (*models.Transaction, error) {
	tx, err := s.store.Transactions().FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperrors.ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// callGateway runs one provider call under the configured timeout and
// records its outcome.
func (s *service) callGateway(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.GatewayTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	s.metrics.RecordGatewayCall(op, string(gateway.OutcomeOf(err)), time.Since(start).Seconds())
	return err
}

// withRetry repeats a gateway call while it fails retryably. Only used for
// compensating calls, which are safe to repeat under the same key.
func (s *service) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= s.config.CompensationAttempts; attempt++ {
		err = s.callGateway(ctx, op, fn)
		if err == nil || !gateway.IsRetryable(err) {
			return err
		}
		if attempt == s.config.CompensationAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(s.config.RetryBackoff * time.Duration(attempt)):
		}
	}
	return err
}

func (s *service) intentStatus(ctx context.Context, intentID string) (*gateway.Intent, error) {
	var intent *gateway.Intent
	err := s.callGateway(ctx, gateway.OpStatus, func(ctx context.Context) error {
		var err error
		intent, err = s.gateway.Status(ctx, intentID)
		return err
	})
	return intent, err
}

func gatewayFailure(err error) error {
	return fmt.Errorf("%w: %w", apperrors.ErrGateway, err)
}

// afterCommit runs the side effects of a committed transition. Failures
// here never undo the transition.
func (s *service) afterCommit(ctx context.Context, eventType string, from models.TransactionStatus, tx *models.Transaction) {
	if err := s.cache.InvalidateTransaction(ctx, tx.ID); err != nil {
		s.logger.Warn("cache invalidation failed", slog.String("transaction_id", tx.ID), slog.Any("error", err))
	}
	if from != tx.Status {
		s.metrics.RecordTransition(string(from), string(tx.Status))
	}
	if err := s.events.Publish(ctx, models.NewTransactionEvent(eventType, tx, s.now())); err != nil {
		s.logger.Warn("event publish failed",
			slog.String("transaction_id", tx.ID),
			slog.String("event", eventType),
			slog.Any("error", err))
	}
	s.logger.Info("transaction updated",
		slog.String("transaction_id", tx.ID),
		slog.String("event", eventType),
		slog.String("from", string(from)),
		slog.String("to", string(tx.Status)))
}

// breach reports a state the engine should never reach.
func (s *service) breach(kind string, tx *models.Transaction, msg string, attrs ...any) {
	s.metrics.RecordInvariantBreach(kind)
	base := []any{
		slog.Bool("alert", true),
		slog.String("kind", kind),
		slog.String("transaction_id", tx.ID),
		slog.String("listing_id", tx.ListingID),
		slog.String("payment_intent_id", tx.PaymentIntentID),
	}
	s.logger.Error(msg, append(base, attrs...)...)
}

// releaseListing hands a reserved listing back to the market.
func (s *service) releaseListing(ctx context.Context, listingID string) {
	ok, err := s.store.Listings().SetStatus(ctx, listingID, models.ListingPending, models.ListingActive)
	s.metrics.RecordCompensation(CompensateReleaseListing, err == nil && ok)
	if err != nil || !ok {
		s.logger.Error("listing release failed",
			slog.Bool("alert", true),
			slog.String("listing_id", listingID),
			slog.Bool("matched", ok),
			slog.Any("error", err))
	}
}

// settled maps a guarded update that matched nothing to the error the
// caller should see, based on the row as it is now.
func (s *service) settled(ctx context.Context, id string, stateErr error) (*models.Transaction, error) {
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case current.Status == models.StatusCancelled || current.Status == models.StatusDisputed:
		return current, apperrors.ErrAlreadyTerminal
	case current.CaptureClaimedAt != nil:
		return current, apperrors.ErrCaptureInProgress
	case stateErr != nil:
		return current, stateErr
	default:
		return current, apperrors.ErrConcurrentUpdate
	}
}
