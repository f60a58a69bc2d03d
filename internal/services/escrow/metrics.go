package escrow

import (
	"context"

	"tradepost/internal/models"
)

// NoopMetricsCollector is a no-op implementation of MetricsCollector
type NoopMetricsCollector struct{}

func (n *NoopMetricsCollector) RecordTransition(string, string)           {}
func (n *NoopMetricsCollector) RecordGatewayCall(string, string, float64) {}
func (n *NoopMetricsCollector) RecordCompensation(string, bool)           {}
func (n *NoopMetricsCollector) RecordInvariantBreach(string)              {}
func (n *NoopMetricsCollector) RecordCacheHit(bool)                       {}

type noopCache struct{}

func (noopCache) GetTransactionView(ctx context.Context, id string) (*models.TransactionPartyView, error) {
	return nil, nil
}

func (noopCache) CacheTransactionView(ctx context.Context, view *models.TransactionPartyView) error {
	return nil
}

func (noopCache) InvalidateTransaction(ctx context.Context, id string) error { return nil }

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, event models.TransactionEvent) error { return nil }
