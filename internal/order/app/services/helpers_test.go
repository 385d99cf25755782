package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"kitchen-ledger/internal/order/adapter/memory"
	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/domain/dto"
	"kitchen-ledger/internal/order/domain/models"
	"kitchen-ledger/internal/xpkg/logger"

	"github.com/shopspring/decimal"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fixture struct {
	store     *memory.Store
	catalog   *memory.Catalog
	clock     *testClock
	orders    *OrderService
	analytics *AnalyticsService
}

var lunch = time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newFixture(t *testing.T, opts ...memory.Option) *fixture {
	t.Helper()
	mem := memory.New(opts...)
	return newFixtureWith(t, mem, mem, OrderOptions{RequireFulfilled: true, RetryAttempts: 3, RetryBackoff: time.Millisecond})
}

// newFixtureWith runs the services against store; mem is the memory store
// underneath it, used for assertions.
func newFixtureWith(t *testing.T, store core.IStore, mem *memory.Store, opts OrderOptions) *fixture {
	t.Helper()
	catalog := memory.NewCatalog(
		models.Product{Ref: "burger", Name: "Burger", Price: dec("8.99"), Active: true},
		models.Product{Ref: "soda", Name: "Soda", Price: dec("2.50"), Active: true},
		models.Product{Ref: "fries", Name: "Fries", Price: dec("3.00"), Active: true},
		models.Product{Ref: "retired", Name: "Retired", Price: dec("1.00"), Active: false},
	)
	clock := &testClock{t: lunch}
	rollup := NewRollupService(time.UTC, logger.Nop())
	return &fixture{
		store:     mem,
		catalog:   catalog,
		clock:     clock,
		orders:    NewOrderService(store, catalog, nil, rollup, clock, opts, logger.Nop()),
		analytics: NewAnalyticsService(store, clock, time.UTC, time.Second, logger.Nop()),
	}
}

func takeaway(items ...dto.Item) dto.OrderRequest {
	return dto.OrderRequest{Type: string(models.Takeaway), Items: items}
}

func dineIn(table int, items ...dto.Item) dto.OrderRequest {
	return dto.OrderRequest{Type: string(models.DineIn), TableNumber: &table, Items: items}
}

func item(ref string, qty int) dto.Item {
	return dto.Item{ProductRef: ref, Quantity: qty}
}

func (f *fixture) create(t *testing.T, req dto.OrderRequest) models.Order {
	t.Helper()
	o, err := f.orders.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return o
}

func (f *fixture) transition(t *testing.T, id string, to models.Status) models.Order {
	t.Helper()
	o, err := f.orders.Transition(context.Background(), id, dto.TransitionRequest{Status: string(to)})
	if err != nil {
		t.Fatalf("transition %s -> %s: %v", id, to, err)
	}
	return o
}

func (f *fixture) day(t *testing.T, day time.Time) *models.DailyAggregate {
	t.Helper()
	agg, err := f.store.Repos().Aggregates.Get(context.Background(), day)
	if err != nil {
		t.Fatalf("aggregate %s: %v", models.FormatDay(day), err)
	}
	return agg
}

func (f *fixture) pending(t *testing.T) []models.OutboxEvent {
	t.Helper()
	evs, err := f.store.Repos().Outbox.Pending(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	return evs
}

// ackLostStore commits through the wrapped store and then reports a
// transient error for the first n calls.
type ackLostStore struct {
	core.IStore
	mu sync.Mutex
	n  int
}

func (s *ackLostStore) InTx(ctx context.Context, fn func(ctx context.Context, r core.Repos) error) error {
	if err := s.IStore.InTx(ctx, fn); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n > 0 {
		s.n--
		return core.Transient(core.ReasonStoreTimeout, "commit acknowledgement lost")
	}
	return nil
}
