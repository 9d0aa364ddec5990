package service

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/SettleWire/payment-webhook-service/internal/models"
	"github.com/SettleWire/payment-webhook-service/internal/repository"
)

// fakeStore backs PaymentRepository, DeliveryRepository and
// AssessmentRepository in memory. WithinTx holds one mutex for the whole
// transaction, which models the per-reference row lock closely enough for
// these tests.
type fakeStore struct {
	mu          sync.Mutex
	payments    map[string]models.Payment
	deliveries  []models.WebhookDelivery
	assessments []models.RiskAssessment

	statsCount int
	statsMean  float64
}

func newFakeStore() *fakeStore {
	return &fakeStore{payments: make(map[string]models.Payment)}
}

func (s *fakeStore) putPayment(p models.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.Reference] = p
}

func (s *fakeStore) payment(reference string) (models.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[reference]
	return p, ok
}

func (s *fakeStore) deliveryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deliveries)
}

func (s *fakeStore) lastDelivery() models.WebhookDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliveries[len(s.deliveries)-1]
}

// PaymentRepository

func (s *fakeStore) GetByReference(ctx context.Context, reference string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[reference]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := p
	return &cp, nil
}

func (s *fakeStore) CompletedAmountStats(ctx context.Context, accountID string, since time.Time) (int, float64, error) {
	return s.statsCount, s.statsMean, nil
}

func (s *fakeStore) WithinTx(ctx context.Context, fn func(tx repository.ReconciliationTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&fakeTx{store: s})
}

type fakeTx struct {
	store *fakeStore
}

func (t *fakeTx) GetPaymentForUpdate(ctx context.Context, reference string) (*models.Payment, error) {
	p, ok := t.store.payments[reference]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := p
	return &cp, nil
}

func (t *fakeTx) ApplyTransition(ctx context.Context, p *models.Payment) error {
	t.store.payments[p.Reference] = *p
	return nil
}

func (t *fakeTx) RecordRiskHold(ctx context.Context, reference string, score int) error {
	p := t.store.payments[reference]
	p.RiskScore = &score
	t.store.payments[reference] = p
	return nil
}

func (t *fakeTx) InsertDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	t.store.deliveries = append(t.store.deliveries, *d)
	return nil
}

// DeliveryRepository

func (s *fakeStore) Insert(ctx context.Context, d *models.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, *d)
	return nil
}

func (s *fakeStore) ListByReference(ctx context.Context, reference string, limit int) ([]models.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WebhookDelivery
	for i := len(s.deliveries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.deliveries[i].Reference == reference {
			out = append(out, s.deliveries[i])
		}
	}
	return out, nil
}

// AssessmentRepository

type fakeAssessments struct {
	mu   sync.Mutex
	rows []models.RiskAssessment
}

func (f *fakeAssessments) Insert(ctx context.Context, a *models.RiskAssessment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, *a)
	return nil
}

// SignalStore

type fakeSignals struct {
	mu       sync.Mutex
	counters map[string]int64
	values   map[string]string
}

func newFakeSignals() *fakeSignals {
	return &fakeSignals{
		counters: make(map[string]int64),
		values:   make(map[string]string),
	}
}

func (f *fakeSignals) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[key]++
	return f.counters[key], nil
}

func (f *fakeSignals) GetString(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[key], nil
}

func (f *fakeSignals) SetString(ctx context.Context, key, val string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = val
	return nil
}

// setCounterForToday primes today's velocity counter for an account.
func (f *fakeSignals) setCounterForToday(accountID string, n int64) {
	key := velocityKeyPrefix + accountID + ":" + time.Now().UTC().Format("20060102")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[key] = n
}
