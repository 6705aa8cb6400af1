package order

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Additional-Code/copra/internal/cache"
	"github.com/Additional-Code/copra/internal/config"
	"github.com/Additional-Code/copra/internal/entity"
	"github.com/Additional-Code/copra/internal/inventory"
	"github.com/Additional-Code/copra/internal/messaging"
	"github.com/Additional-Code/copra/internal/observability"
	"github.com/Additional-Code/copra/internal/ordernumber"
	"github.com/Additional-Code/copra/internal/pricing"
	orderrepo "github.com/Additional-Code/copra/internal/repository/order"
	productrepo "github.com/Additional-Code/copra/internal/repository/product"
	"github.com/Additional-Code/copra/internal/validation"
)

// memStore is an in-memory stand-in for the relational store. Transactions are serialised
// and roll back order and stock state when fn fails.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	orders   map[int64]*entity.Order
	nextID   int64
	products map[int64]*entity.Product
	seq      map[string]int64

	conflicts int // Update calls that fail with a version conflict before succeeding
	updates   int
	afterFind func() // runs once, after the next FindByNumber has read its copy
}

func newMemStore(products ...entity.Product) *memStore {
	m := &memStore{
		orders:   map[int64]*entity.Order{},
		products: map[int64]*entity.Product{},
		seq:      map[string]int64{},
	}
	for i := range products {
		p := products[i]
		m.products[p.ID] = &p
	}
	return m
}

func (m *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	orders := make(map[int64]*entity.Order, len(m.orders))
	for id, o := range m.orders {
		orders[id] = o.Clone()
	}
	stock := make(map[int64]int, len(m.products))
	for id, p := range m.products {
		stock[id] = p.StockQuantity
	}
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		for id, o := range orders {
			m.orders[id] = o
		}
		for id, qty := range stock {
			m.products[id].StockQuantity = qty
			m.products[id].InStock = qty > 0
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) Insert(_ context.Context, o *entity.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orders {
		if existing.Number == o.Number {
			return orderrepo.ErrDuplicateNumber
		}
	}
	m.nextID++
	o.ID = m.nextID
	m.orders[o.ID] = o.Clone()
	return nil
}

func (m *memStore) FindByID(_ context.Context, id int64) (*entity.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, orderrepo.ErrNotFound
	}
	return o.Clone(), nil
}

func (m *memStore) FindByNumber(_ context.Context, number string) (*entity.Order, error) {
	o, err := m.findWhere(func(o *entity.Order) bool { return o.Number == number })
	m.mu.Lock()
	hook := m.afterFind
	m.afterFind = nil
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return o, err
}

func (m *memStore) FindByPaymentReference(_ context.Context, ref string) (*entity.Order, error) {
	return m.findWhere(func(o *entity.Order) bool { return ref != "" && o.PaymentReference == ref })
}

func (m *memStore) findWhere(match func(*entity.Order) bool) (*entity.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if match(o) {
			return o.Clone(), nil
		}
	}
	return nil, orderrepo.ErrNotFound
}

func (m *memStore) Update(_ context.Context, o *entity.Order, expected int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	stored, ok := m.orders[o.ID]
	if !ok {
		return orderrepo.ErrNotFound
	}
	if m.conflicts > 0 {
		m.conflicts--
		stored.Version++
		return orderrepo.ErrVersionConflict
	}
	if stored.Version != expected {
		return orderrepo.ErrVersionConflict
	}
	o.Version = expected + 1
	m.orders[o.ID] = o.Clone()
	return nil
}

func (m *memStore) List(_ context.Context, q orderrepo.Query) ([]entity.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []entity.Order
	for _, o := range m.orders {
		if q.Status != "" && o.Status != q.Status {
			continue
		}
		if q.PaymentStatus != "" && o.PaymentStatus != q.PaymentStatus {
			continue
		}
		if q.Search != "" && !strings.Contains(strings.ToLower(o.Number+" "+o.Customer.Name+" "+o.Customer.Email), strings.ToLower(q.Search)) {
			continue
		}
		matched = append(matched, *o.Clone())
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	total := len(matched)
	if q.Offset >= total {
		return nil, total, nil
	}
	end := q.Offset + q.Limit
	if q.Limit == 0 || end > total {
		end = total
	}
	return matched[q.Offset:end], total, nil
}

// memProducts exposes the catalogue side of memStore: product reads, stock and the day sequence.
type memProducts struct{ m *memStore }

func (p memProducts) FindByID(_ context.Context, id int64) (*entity.Product, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	prod, ok := p.m.products[id]
	if !ok {
		return nil, productrepo.ErrNotFound
	}
	cp := *prod
	return &cp, nil
}

func (p memProducts) AdjustStock(_ context.Context, id int64, delta int) (int, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	prod, ok := p.m.products[id]
	if !ok {
		return 0, productrepo.ErrNotFound
	}
	prod.StockQuantity += delta
	prod.InStock = prod.StockQuantity > 0
	return prod.StockQuantity, nil
}

func (p memProducts) Next(_ context.Context, day string) (int64, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	p.m.seq[day]++
	return p.m.seq[day], nil
}

func (m *memStore) stockOf(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].StockQuantity
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingPublisher) Publish(_ context.Context, _ []byte, _ []byte, headers map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, headers[messaging.HeaderEvent])
	return nil
}

func (r *recordingPublisher) Consume(ctx context.Context, _ messaging.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *recordingPublisher) Topic() string { return "test" }

func (r *recordingPublisher) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc   *Service
	store *memStore
	pub   *recordingPublisher
	clock *clock
}

var (
	oilSmall = entity.Product{ID: 1, SKU: "VCO-250", Name: "Virgin Coconut Oil 250ml", Price: decimal.RequireFromString("25.00"), StockQuantity: 10, InStock: true}
	oilLarge = entity.Product{ID: 2, SKU: "VCO-1L", Name: "Virgin Coconut Oil 1L", Price: decimal.RequireFromString("80.00"), StockQuantity: 5, InStock: true}
)

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := newMemStore(oilSmall, oilLarge)
	products := memProducts{m: store}
	pub := &recordingPublisher{}
	clk := &clock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}

	cfg := config.Config{
		Store: config.Store{
			OrderPrefix:    "CO",
			Currency:       "GHS",
			CancelWindow:   time.Hour,
			MaxRetries:     3,
			RetryBaseDelay: time.Millisecond,
		},
	}
	logger := zap.NewNop()
	metrics := observability.NoopMetrics()

	svc := NewService(Params{
		Repository: store,
		Products:   products,
		Stock:      inventory.NewAdjuster(inventory.Params{Store: products, Logger: logger, Metrics: metrics}),
		Numbers:    ordernumber.New("CO", time.UTC, products),
		Tx:         store,
		Fees:       pricing.New(config.DefaultDeliveryFees(), decimal.RequireFromString("30")),
		Validator:  validation.New(),
		Cache:      cache.NoopStore(),
		Config:     cfg,
		Logger:     logger,
		Publisher:  pub,
		Metrics:    metrics,
	})
	svc.now = clk.Now

	return &harness{svc: svc, store: store, pub: pub, clock: clk}
}

func checkout(items ...ItemInput) CreateInput {
	return CreateInput{
		Customer: CustomerInput{
			Name:     "Ama Mensah",
			Email:    "Ama@Example.com",
			Phone:    "+233241234567",
			WhatsApp: "+233241234567",
		},
		ShippingAddress: AddressInput{
			Street: "12 Palm Avenue",
			City:   "Accra",
			Region: "Greater Accra",
		},
		Items:         items,
		PaymentMethod: entity.PaymentMethodMobileMoney,
	}
}

// fencedCache keeps the same fences as the redis store.
type fencedCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	fences  map[string]int64
}

func newFencedCache() *fencedCache {
	return &fencedCache{entries: map[string][]byte{}, fences: map[string]int64{}}
}

func (c *fencedCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}

func (c *fencedCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *fencedCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

func (c *fencedCache) SetIfNewer(_ context.Context, keys []string, value []byte, version int64, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		if c.fences[key] > version {
			return false, nil
		}
	}
	for _, key := range keys {
		c.entries[key] = value
	}
	return true, nil
}

func (c *fencedCache) Invalidate(_ context.Context, version int64, _ time.Duration, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		if c.fences[key] < version {
			c.fences[key] = version
		}
		delete(c.entries, key)
	}
	return nil
}

func (c *fencedCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string][]byte{}
}
