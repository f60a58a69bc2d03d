// Package payout marks completed sales as paid out once the dispute hold on
// the seller's funds has elapsed.
package payout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tradepost/internal/logging"
	"tradepost/internal/repositories"
	"tradepost/internal/services/escrow"
	"tradepost/internal/services/gateway"
)

const (
	DefaultHold      = 24 * time.Hour
	DefaultInterval  = 10 * time.Minute
	DefaultBatchSize = 100
)

type Config struct {
	// Hold is how long after completion the seller's funds stay reviewable.
	Hold      time.Duration
	Interval  time.Duration
	BatchSize int
	Now       func() time.Time
}

// Metrics receives one observation per processed transaction.
type Metrics interface {
	RecordPayout(ok bool)
}

type noopMetrics struct{}

func (noopMetrics) RecordPayout(bool) {}

type Sweeper struct {
	transactions repositories.TransactionRepository
	engine       escrow.Service
	gateway      gateway.Gateway
	config       Config
	metrics      Metrics
	logger       *slog.Logger
}

func NewSweeper(
	transactions repositories.TransactionRepository,
	engine escrow.Service,
	gw gateway.Gateway,
	config Config,
	metrics Metrics,
	logger *slog.Logger,
) *Sweeper {
	if config.Hold <= 0 {
		config.Hold = DefaultHold
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
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
	return &Sweeper{
		transactions: transactions,
		engine:       engine,
		gateway:      gw,
		config:       config,
		metrics:      metrics,
		logger:       logging.Component(logger, "payout"),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("payout sweep failed", slog.Any("error", err))
			}
		}
	}
}

// Sweep pays out one batch of eligible transactions and returns how many
// were recorded.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.config.Now().UTC().Add(-s.config.Hold)
	due, err := s.transactions.FindCompletedBefore(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("find payouts: %w", err)
	}

	paid := 0
	for _, tx := range due {
		if ctx.Err() != nil {
			return paid, ctx.Err()
		}

		transferID := ""
		if tx.TransferID != nil {
			transferID = *tx.TransferID
		}
		if transferID == "" {
			intent, err := s.gateway.Status(ctx, tx.PaymentIntentID)
			if err != nil {
				s.metrics.RecordPayout(false)
				s.logger.Warn("payout status lookup failed",
					slog.String("transaction_id", tx.ID),
					slog.Any("error", err))
				continue
			}
			if intent.Status != gateway.IntentCaptured {
				s.metrics.RecordPayout(false)
				s.logger.Error("completed transaction is not captured at the provider",
					slog.Bool("alert", true),
					slog.String("transaction_id", tx.ID),
					slog.String("intent_status", string(intent.Status)))
				continue
			}
			transferID = intent.TransferID
		}

		if _, err := s.engine.RecordPayout(ctx, tx.ID, transferID); err != nil {
			s.metrics.RecordPayout(false)
			s.logger.Warn("record payout failed",
				slog.String("transaction_id", tx.ID),
				slog.Any("error", err))
			continue
		}
		s.metrics.RecordPayout(true)
		paid++
	}

	if paid > 0 {
		s.logger.Info("payouts recorded", slog.Int("count", paid))
	}
	return paid, nil
}
