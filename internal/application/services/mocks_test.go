package services_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/providers"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/repositories"
	apperrors "github.com/zatekoja/discoveryrank/backend/pkg/errors"
)

// MockCacheStore is an in-memory CacheStore with stable SCAN-like paging
type MockCacheStore struct {
	mu              sync.RWMutex
	data            map[string][]byte
	order           []string
	sets            []string
	deleted         []string
	scanUnsupported bool
	failGet         bool
	scans           int
}

func NewMockCacheStore() *MockCacheStore {
	return &MockCacheStore{data: make(map[string][]byte)}
}

func (m *MockCacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failGet {
		return nil, errors.New("connection refused")
	}
	if val, ok := m.data[key]; ok {
		return val, nil
	}
	return nil, providers.ErrCacheMiss
}

func (m *MockCacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		m.order = append(m.order, key)
	}
	m.data[key] = value
	m.sets = append(m.sets, key)
	return nil
}

func (m *MockCacheStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
		m.deleted = append(m.deleted, k)
	}
	return nil
}

// ScanPrefix examines up to limit keys per page like SCAN COUNT, so pages
// over non-matching keys come back empty with a live cursor
func (m *MockCacheStore) ScanPrefix(ctx context.Context, prefix string, cursor uint64, limit int64) ([]string, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans++
	if m.scanUnsupported {
		return nil, 0, providers.ErrScanUnsupported
	}
	var keys []string
	i := int(cursor)
	end := i + int(limit)
	for ; i < len(m.order) && i < end; i++ {
		k := m.order[i]
		if _, live := m.data[k]; live && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	if i >= len(m.order) {
		return keys, 0, nil
	}
	return keys, uint64(i), nil
}

func (m *MockCacheStore) Put(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		m.order = append(m.order, key)
	}
	m.data[key] = value
}

func (m *MockCacheStore) Scans() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scans
}

func (m *MockCacheStore) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok
}

func (m *MockCacheStore) SetCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sets)
}

func (m *MockCacheStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FakeCandidateRepository serves products and interactions from memory
type FakeCandidateRepository struct {
	mu           sync.RWMutex
	products     map[string]*entities.Product
	interactions []*entities.Interaction
	now          time.Time
	delay        time.Duration
	unavailable  bool
	listCalls    int64
}

func NewFakeCandidateRepository(now time.Time, products ...*entities.Product) *FakeCandidateRepository {
	r := &FakeCandidateRepository{products: make(map[string]*entities.Product), now: now}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

func (r *FakeCandidateRepository) AddInteraction(userID, productID string, kind entities.InteractionKind, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interactions = append(r.interactions, &entities.Interaction{UserID: userID, ProductID: productID, Kind: kind, At: at})
}

func (r *FakeCandidateRepository) ListCalls() int64 {
	return atomic.LoadInt64(&r.listCalls)
}

func (r *FakeCandidateRepository) wait(ctx context.Context) error {
	if r.unavailable {
		return apperrors.NewUnavailableError("store unreachable", errors.New("dial tcp: refused"), 0)
	}
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return apperrors.FromContext(ctx)
		}
	}
	return nil
}

func (r *FakeCandidateRepository) GetProduct(ctx context.Context, id string) (*entities.Product, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("product not found: " + id)
	}
	return p, nil
}

func (r *FakeCandidateRepository) ListPublished(ctx context.Context, f repositories.ListFilter) ([]*entities.Product, error) {
	atomic.AddInt64(&r.listCalls, 1)
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entities.Product
	for _, p := range r.products {
		if !p.IsPublished() {
			continue
		}
		if f.CategoryID != "" && p.CategoryID != f.CategoryID {
			continue
		}
		if f.MakerID != "" && p.MakerID != f.MakerID {
			continue
		}
		if f.SinceDays > 0 && p.CreatedAt.Before(r.now.AddDate(0, 0, -f.SinceDays)) {
			continue
		}
		if len(f.Tags) > 0 {
			match := false
			for _, t := range f.Tags {
				if p.HasTag(t) {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *FakeCandidateRepository) ListByIDs(ctx context.Context, ids []string) (map[string]*entities.Product, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*entities.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (r *FakeCandidateRepository) GetUserInteractions(ctx context.Context, userID string, kinds []entities.InteractionKind, sinceDays int) ([]*entities.Interaction, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := make(map[entities.InteractionKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []*entities.Interaction
	for _, i := range r.interactions {
		if i.UserID == userID && want[i.Kind] {
			out = append(out, i)
		}
	}
	return out, nil
}

func (r *FakeCandidateRepository) GetCollaborators(ctx context.Context, userID string, k int) ([]string, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	mine := map[string]bool{}
	for _, i := range r.interactions {
		if i.UserID == userID {
			mine[i.ProductID] = true
		}
	}
	shared := map[string]int{}
	for _, i := range r.interactions {
		if i.UserID != userID && mine[i.ProductID] {
			shared[i.UserID]++
		}
	}
	users := make([]string, 0, len(shared))
	for u := range shared {
		users = append(users, u)
	}
	sort.Slice(users, func(a, b int) bool {
		if shared[users[a]] != shared[users[b]] {
			return shared[users[a]] > shared[users[b]]
		}
		return users[a] < users[b]
	})
	if len(users) > k {
		users = users[:k]
	}
	return users, nil
}

// MockEngagementRepository records write-path calls
type MockEngagementRepository struct {
	mock.Mock
}

func (m *MockEngagementRepository) RecordView(ctx context.Context, view *entities.Interaction) (bool, error) {
	args := m.Called(ctx, view)
	return args.Bool(0), args.Error(1)
}

func (m *MockEngagementRepository) Toggle(ctx context.Context, interaction *entities.Interaction) (bool, error) {
	args := m.Called(ctx, interaction)
	return args.Bool(0), args.Error(1)
}

func (m *MockEngagementRepository) Record(ctx context.Context, interaction *entities.Interaction) error {
	args := m.Called(ctx, interaction)
	return args.Error(0)
}

// MockEngagementQueue captures enqueued events
type MockEngagementQueue struct {
	mu       sync.Mutex
	events   []*entities.EngagementEvent
	delivery chan providers.Delivery
	acked    []string
}

func NewMockEngagementQueue() *MockEngagementQueue {
	return &MockEngagementQueue{delivery: make(chan providers.Delivery, 64)}
}

func (q *MockEngagementQueue) Enqueue(ctx context.Context, event *entities.EngagementEvent) error {
	q.mu.Lock()
	q.events = append(q.events, event)
	q.mu.Unlock()
	q.delivery <- providers.Delivery{
		Event: event,
		Ack: func(ctx context.Context) error {
			q.mu.Lock()
			defer q.mu.Unlock()
			q.acked = append(q.acked, event.ID)
			return nil
		},
	}
	return nil
}

func (q *MockEngagementQueue) Consume(ctx context.Context) (<-chan providers.Delivery, error) {
	return q.delivery, nil
}

func (q *MockEngagementQueue) Close() error { return nil }

func (q *MockEngagementQueue) Events() []*entities.EngagementEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*entities.EngagementEvent(nil), q.events...)
}

func (q *MockEngagementQueue) Acked() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acked...)
}
