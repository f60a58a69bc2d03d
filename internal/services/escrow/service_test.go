package escrow

import (
	"context"
	"sync"
	"testing"
	"time"

	"tradepost/internal/models"
	"tradepost/internal/repositories"
	"tradepost/internal/repositories/repotest"
	"tradepost/internal/services/gateway"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testSellerID uint = 1
	testBuyerID  uint = 2
	otherBuyerID uint = 3
	strangerID   uint = 9
)

const (
	testListingID       = "lst_camera"
	testPayee           = "acct_seller"
	testPrice     int64 = 12000
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db      *gorm.DB
	store   repositories.Store
	gw      *gateway.SandboxGateway
	svc     Service
	metrics *recordingMetrics
	events  *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := repotest.NewDB(t)
	repotest.Seller(t, db, testSellerID, "Sam Seller", testPayee)
	repotest.User(t, db, testBuyerID, "Bea Buyer")
	repotest.User(t, db, otherBuyerID, "Cy Buyer")
	repotest.Listing(t, db, testListingID, testSellerID, testPrice)

	f := &fixture{
		db:      db,
		store:   repositories.NewStore(db),
		gw:      gateway.NewSandboxGateway(gateway.WithPayees(testPayee)),
		metrics: &recordingMetrics{},
		events:  &recordingPublisher{},
	}
	f.svc = f.newService(f.store)
	return f
}

func (f *fixture) newService(store repositories.Store) Service {
	return NewService(store, f.gw, nil, f.events, EscrowConfig{
		FeeRateBps:   250,
		RetryBackoff: time.Millisecond,
		Now:          func() time.Time { return testNow },
	}, f.metrics)
}

func (f *fixture) reload(t *testing.T, id string) *models.Transaction {
	t.Helper()
	tx, err := f.store.Transactions().FindByID(context.Background(), id)
	require.NoError(t, err)
	return tx
}

func (f *fixture) create(t *testing.T, buyerID uint) *models.Transaction {
	t.Helper()
	res, err := f.svc.CreateTransaction(context.Background(), buyerID, "buyer@example.com", CreateTransactionRequest{
		ListingID: testListingID,
		Amount:    testPrice,
	})
	require.NoError(t, err)
	return res.Transaction
}

func (f *fixture) authorized(t *testing.T) *models.Transaction {
	t.Helper()
	tx := f.create(t, testBuyerID)
	require.NoError(t, f.gw.ConfirmIntent(tx.PaymentIntentID))
	tx, err := f.svc.ConfirmPaymentAuthorized(context.Background(), tx.ID, tx.PaymentIntentID)
	require.NoError(t, err)
	return tx
}

func (f *fixture) scheduled(t *testing.T) *models.Transaction {
	t.Helper()
	tx := f.authorized(t)
	tx, err := f.svc.SetPickupDetails(context.Background(), testSellerID, tx.ID, PickupDetails{Address: "123 Main St"})
	require.NoError(t, err)
	return tx
}

type recordingMetrics struct {
	mu            sync.Mutex
	transitions   []string
	compensations map[string]int
	breaches      map[string]int
	cacheHits     int
	cacheMisses   int
}

func (m *recordingMetrics) RecordTransition(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, from+"->"+to)
}

func (m *recordingMetrics) RecordGatewayCall(string, string, float64) {}

func (m *recordingMetrics) RecordCompensation(action string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.compensations == nil {
		m.compensations = make(map[string]int)
	}
	if ok {
		m.compensations[action]++
	}
}

func (m *recordingMetrics) RecordInvariantBreach(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breaches == nil {
		m.breaches = make(map[string]int)
	}
	m.breaches[kind]++
}

func (m *recordingMetrics) RecordCacheHit(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.TransactionEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event models.TransactionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// failingCreateStore makes every ledger insert fail with err.
type failingCreateStore struct {
	repositories.Store
	err error
}

func (s failingCreateStore) Transactions() repositories.TransactionRepository {
	return failingCreateRepo{TransactionRepository: s.Store.Transactions(), err: s.err}
}

type failingCreateRepo struct {
	repositories.TransactionRepository
	err error
}

func (r failingCreateRepo) Create(context.Context, *models.Transaction) error {
	return r.err
}
