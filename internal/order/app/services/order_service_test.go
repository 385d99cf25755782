package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kitchen-ledger/internal/order/adapter/memory"
	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/domain/dto"
	"kitchen-ledger/internal/order/domain/models"
)

func TestCreateDineInScenario(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, dineIn(7, item("burger", 2), item("soda", 1)))

	if !o.Total.Equal(dec("20.48")) {
		t.Fatalf("total = %s, want 20.48", o.Total)
	}
	if o.Status != models.StatusReceived || o.Version != 1 || o.DocumentState != models.DocumentOrder {
		t.Errorf("unexpected initial state: %+v", o)
	}
	if len(o.ProductNames) != 2 || o.ProductNames[0] != "Burger" || o.ProductNames[1] != "Soda" {
		t.Errorf("product names = %v", o.ProductNames)
	}

	agg := f.day(t, models.DayOf(lunch, time.UTC))
	if !agg.DailyRevenue.Equal(dec("20.48")) || agg.DailyOrders != 1 {
		t.Errorf("daily = %d / %s", agg.DailyOrders, agg.DailyRevenue)
	}
	slot := agg.HourlyStats[13]
	if slot.Hour != 13 || slot.Orders != 1 || !slot.Revenue.Equal(dec("20.48")) {
		t.Errorf("hour 13 = %+v", slot)
	}
	if empty := agg.HourlyStats[3]; empty.Hour != 3 || empty.Orders != 0 || !empty.Revenue.IsZero() {
		t.Errorf("hour 3 = %+v", empty)
	}
	if len(agg.ProductSales) != 2 {
		t.Fatalf("product sales = %+v", agg.ProductSales)
	}
	burger, soda := agg.ProductSales[0], agg.ProductSales[1]
	if burger.ProductName != "Burger" || !burger.Revenue.Equal(dec("17.98")) || burger.Orders != 2 {
		t.Errorf("burger line = %+v", burger)
	}
	if soda.ProductName != "Soda" || !soda.Revenue.Equal(dec("2.50")) || soda.Orders != 1 {
		t.Errorf("soda line = %+v", soda)
	}
}

func TestCreateValidation(t *testing.T) {
	long := strings.Repeat("x", core.MaxNotesLen+1)
	table := 0
	tests := []struct {
		name   string
		req    dto.OrderRequest
		kind   error
		reason string
	}{
		{"empty items", takeaway(), core.ErrValidation, core.ReasonEmptyItems},
		{"zero quantity", takeaway(item("burger", 0)), core.ErrValidation, core.ReasonInvalidQuantity},
		{"negative quantity", takeaway(item("burger", -1)), core.ErrValidation, core.ReasonInvalidQuantity},
		{"unknown type", dto.OrderRequest{Type: "drone", Items: []dto.Item{item("burger", 1)}}, core.ErrValidation, core.ReasonInvalidType},
		{"dine in without table", dto.OrderRequest{Type: "dine_in", Items: []dto.Item{item("burger", 1)}}, core.ErrValidation, core.ReasonTableNumberRequired},
		{"dine in bad table", dineIn(table, item("burger", 1)), core.ErrValidation, core.ReasonInvalidTableNumber},
		{"takeaway with table", dto.OrderRequest{Type: "takeaway", TableNumber: new(int), Items: []dto.Item{item("burger", 1)}}, core.ErrValidation, core.ReasonTableNumberNotAllow},
		{"notes too long", dto.OrderRequest{Type: "delivery", Notes: &long, Items: []dto.Item{item("burger", 1)}}, core.ErrValidation, core.ReasonNotesTooLong},
		{"inactive product", takeaway(item("retired", 1)), core.ErrValidation, core.ReasonProductInactive},
		{"unknown product", takeaway(item("caviar", 1)), core.ErrNotFound, core.ReasonProductNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.orders.Create(context.Background(), tt.req)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("err = %v, want kind %v", err, tt.kind)
			}
			if got := core.ReasonOf(err); got != tt.reason {
				t.Errorf("reason = %q, want %q", got, tt.reason)
			}
			if _, err := f.store.Repos().Aggregates.Latest(context.Background()); !errors.Is(err, core.ErrNotFound) {
				t.Error("rejected order reached the aggregates")
			}
		})
	}
}

func TestCreateSnapshotsPrices(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, takeaway(item("burger", 1)))

	f.catalog.Put(models.Product{Ref: "burger", Name: "Big Burger", Price: dec("12.00"), Active: true})

	got, err := f.orders.Get(context.Background(), o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Items[0].UnitPrice.Equal(dec("8.99")) || got.ProductNames[0] != "Burger" || !got.Total.Equal(dec("8.99")) {
		t.Errorf("historical order changed: %+v", got)
	}
}

func TestCreateRetryAfterLostAckCountsOnce(t *testing.T) {
	mem := memory.New()
	store := &ackLostStore{IStore: mem, n: 1}
	f := newFixtureWith(t, store, mem, OrderOptions{RetryAttempts: 3, RetryBackoff: time.Millisecond})

	o := f.create(t, takeaway(item("soda", 2)))

	agg := f.day(t, models.DayOf(lunch, time.UTC))
	if agg.DailyOrders != 1 || !agg.DailyRevenue.Equal(dec("5.00")) {
		t.Errorf("retry double counted: %d / %s", agg.DailyOrders, agg.DailyRevenue)
	}
	logs, err := f.orders.History(context.Background(), o.ID)
	if err != nil || len(logs) != 1 {
		t.Errorf("history = %+v, %v", logs, err)
	}
	if evs := f.pending(t); len(evs) != 1 || evs[0].Type != models.EventOrderCreated {
		t.Errorf("outbox = %+v", evs)
	}
}

func TestCreateGivesUpOnPersistentTransientError(t *testing.T) {
	var (
		calls int
		down  = true
	)
	f := newFixture(t, memory.WithCommitHook(func() error {
		if !down {
			return nil
		}
		calls++
		return core.Transient(core.ReasonStoreUnavailable, "down")
	}))

	_, err := f.orders.Create(context.Background(), takeaway(item("burger", 1)))
	if !errors.Is(err, core.ErrTransientStore) {
		t.Fatalf("err = %v", err)
	}
	if calls != 3 {
		t.Errorf("commit attempts = %d, want 3", calls)
	}
	down = false
	orders, err := f.store.Repos().Orders.List(context.Background(), models.OrderFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 0 {
		t.Errorf("order stored without its rollup: %+v", orders)
	}
}

func TestCreateRollupFailureRollsBackOrder(t *testing.T) {
	f := newFixture(t, memory.WithApplyHook(func(models.RollupEvent) error {
		return errors.New("constraint violated")
	}))

	if _, err := f.orders.Create(context.Background(), takeaway(item("burger", 1))); err == nil {
		t.Fatal("expected error")
	}
	orders, err := f.store.Repos().Orders.List(context.Background(), models.OrderFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 0 {
		t.Errorf("order kept after failed rollup: %+v", orders)
	}
	if len(f.pending(t)) != 0 {
		t.Error("outbox kept after failed rollup")
	}
}

func TestConcurrentCreatesSameDay(t *testing.T) {
	f := newFixture(t)
	const n = 50

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// one or two fries per order
			_, err := f.orders.Create(context.Background(), takeaway(item("fries", 1+i%2)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	agg := f.day(t, models.DayOf(lunch, time.UTC))
	// 25 orders of 3.00 and 25 of 6.00
	if agg.DailyOrders != n || !agg.DailyRevenue.Equal(dec("225.00")) {
		t.Errorf("daily = %d / %s", agg.DailyOrders, agg.DailyRevenue)
	}
	if agg.HourlyStats[13].Orders != n {
		t.Errorf("hour 13 orders = %d", agg.HourlyStats[13].Orders)
	}
	if err := agg.CheckInvariants(); err != nil {
		t.Error(err)
	}
}

func TestTwoOrdersSameHour(t *testing.T) {
	f := newFixture(t)
	f.create(t, takeaway(item("burger", 1)))
	f.clock.Set(lunch.Add(40 * time.Minute))
	f.create(t, takeaway(item("soda", 1)))

	slot := f.day(t, models.DayOf(lunch, time.UTC)).HourlyStats[13]
	if slot.Orders != 2 || !slot.Revenue.Equal(dec("11.49")) {
		t.Errorf("hour 13 = %+v", slot)
	}
}

func TestRunningTotalsAcrossDays(t *testing.T) {
	f := newFixture(t)
	f.create(t, takeaway(item("burger", 1)))
	f.clock.Set(lunch.AddDate(0, 0, 1))
	f.create(t, takeaway(item("soda", 2)))
	f.clock.Set(lunch.AddDate(0, 0, 3))
	f.create(t, takeaway(item("fries", 1)))

	d1 := f.day(t, models.DayOf(lunch, time.UTC))
	d2 := f.day(t, models.DayOf(lunch.AddDate(0, 0, 1), time.UTC))
	d4 := f.day(t, models.DayOf(lunch.AddDate(0, 0, 3), time.UTC))
	if err := models.CheckRunningTotals(d1, d2); err != nil {
		t.Error(err)
	}
	if err := models.CheckRunningTotals(d2, d4); err != nil {
		t.Error(err)
	}
	if d4.TotalOrders != 3 || !d4.TotalRevenue.Equal(dec("16.99")) {
		t.Errorf("day 4 totals = %d / %s", d4.TotalOrders, d4.TotalRevenue)
	}
}

func TestTransitionTakeawayScenario(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, takeaway(item("burger", 1)))

	o = f.transition(t, o.ID, models.StatusInPreparation)
	o = f.transition(t, o.ID, models.StatusReadyForPickup)
	if o.Version != 3 {
		t.Errorf("version = %d, want 3", o.Version)
	}

	_, err := f.orders.Transition(context.Background(), o.ID, dto.TransitionRequest{Status: string(models.StatusServed)})
	if !errors.Is(err, core.ErrInvalidTransition) || core.ReasonOf(err) != core.ReasonNotAllowed {
		t.Fatalf("err = %v", err)
	}
	got, _ := f.orders.Get(context.Background(), o.ID)
	if got.Status != models.StatusReadyForPickup {
		t.Errorf("status changed to %s after rejected transition", got.Status)
	}
}

func TestTransitionOutOfTerminalState(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, dineIn(3, item("soda", 1)))
	f.transition(t, o.ID, models.StatusCancelled)

	for _, to := range models.AllStatuses {
		_, err := f.orders.Transition(context.Background(), o.ID, dto.TransitionRequest{Status: string(to)})
		if !errors.Is(err, core.ErrInvalidTransition) || core.ReasonOf(err) != core.ReasonTerminalState {
			t.Errorf("CANCELLED -> %s: err = %v", to, err)
		}
	}
}

func TestTransitionUnknownStatus(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, takeaway(item("soda", 1)))
	_, err := f.orders.Transition(context.Background(), o.ID, dto.TransitionRequest{Status: "EATEN"})
	if !errors.Is(err, core.ErrValidation) || core.ReasonOf(err) != core.ReasonInvalidStatus {
		t.Errorf("err = %v", err)
	}
	_, err = f.orders.Transition(context.Background(), "missing", dto.TransitionRequest{Status: string(models.StatusCancelled)})
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("missing order err = %v", err)
	}
}

func TestTransitionNeverTouchesAnalytics(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, takeaway(item("burger", 2)))
	before := f.day(t, models.DayOf(lunch, time.UTC))

	f.clock.Set(lunch.Add(2 * time.Hour))
	f.transition(t, o.ID, models.StatusCancelled)

	after := f.day(t, models.DayOf(lunch, time.UTC))
	if after.DailyOrders != before.DailyOrders || !after.DailyRevenue.Equal(before.DailyRevenue) ||
		!after.LastUpdated.Equal(before.LastUpdated) {
		t.Errorf("cancellation changed analytics: before %+v after %+v", before, after)
	}
}

func TestTransitionExpectedVersion(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, takeaway(item("burger", 1)))
	stale := o.Version
	f.transition(t, o.ID, models.StatusInPreparation)

	_, err := f.orders.Transition(context.Background(), o.ID, dto.TransitionRequest{
		Status:          string(models.StatusCancelled),
		ExpectedVersion: &stale,
	})
	if !errors.Is(err, core.ErrConflict) || core.ReasonOf(err) != core.ReasonStaleVersion {
		t.Fatalf("err = %v", err)
	}
}

func TestConcurrentTransitionsOneWinner(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, takeaway(item("burger", 1)))

	const n = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orders.Transition(context.Background(), o.ID, dto.TransitionRequest{Status: string(models.StatusInPreparation)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, core.ErrConflict), errors.Is(err, core.ErrInvalidTransition):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
	logs, _ := f.orders.History(context.Background(), o.ID)
	if len(logs) != 2 {
		t.Errorf("history has %d entries, want 2", len(logs))
	}
}

func TestTransitionRecordsHistoryAndOutbox(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, takeaway(item("burger", 1)))
	if _, err := f.orders.Transition(context.Background(), o.ID, dto.TransitionRequest{
		Status:    string(models.StatusInPreparation),
		ChangedBy: "chef-1",
		Note:      "on the grill",
	}); err != nil {
		t.Fatal(err)
	}

	logs, err := f.orders.History(context.Background(), o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 || logs[1].Status != models.StatusInPreparation || logs[1].ChangedBy != "chef-1" || logs[1].Note != "on the grill" {
		t.Errorf("history = %+v", logs)
	}

	evs := f.pending(t)
	if len(evs) != 2 || evs[1].Type != models.EventOrderStatusChanged || evs[1].AggregateID != o.ID {
		t.Fatalf("outbox = %+v", evs)
	}
	if evs[0].ID == evs[1].ID {
		t.Error("event ids collide")
	}
}

func TestValidateInvoice(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, dineIn(5, item("burger", 1)))

	_, err := f.orders.ValidateInvoice(context.Background(), o.ID, dto.InvoiceRequest{})
	if !errors.Is(err, core.ErrInvalidTransition) || core.ReasonOf(err) != core.ReasonInvoiceNotFulfilled {
		t.Fatalf("unfulfilled invoice err = %v", err)
	}

	for _, st := range []models.Status{models.StatusInPreparation, models.StatusReadyToServe, models.StatusServed} {
		f.transition(t, o.ID, st)
	}
	inv, err := f.orders.ValidateInvoice(context.Background(), o.ID, dto.InvoiceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if inv.DocumentState != models.DocumentInvoice || inv.Status != models.StatusServed {
		t.Errorf("invoiced order = %+v", inv)
	}

	_, err = f.orders.ValidateInvoice(context.Background(), o.ID, dto.InvoiceRequest{})
	if core.ReasonOf(err) != core.ReasonAlreadyInvoiced {
		t.Errorf("second invoice err = %v", err)
	}

	// the kitchen status keeps moving independently
	if done := f.transition(t, o.ID, models.StatusCompleted); done.DocumentState != models.DocumentInvoice {
		t.Errorf("document state lost: %+v", done)
	}
}

func TestValidateInvoiceWithoutGuard(t *testing.T) {
	mem := memory.New()
	f := newFixtureWith(t, mem, mem, OrderOptions{RequireFulfilled: false})
	o := f.create(t, takeaway(item("soda", 1)))

	inv, err := f.orders.ValidateInvoice(context.Background(), o.ID, dto.InvoiceRequest{})
	if err != nil || inv.DocumentState != models.DocumentInvoice {
		t.Fatalf("invoice = %+v, %v", inv, err)
	}
}

func TestListFilters(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.clock.Set(lunch.Add(time.Duration(i) * time.Minute))
		f.create(t, takeaway(item("soda", 1)))
	}
	f.create(t, dineIn(2, item("burger", 1)))

	dine := models.DineIn
	got, err := f.orders.List(context.Background(), models.OrderFilter{Type: &dine})
	if err != nil || len(got) != 1 {
		t.Fatalf("dine in list = %d, %v", len(got), err)
	}

	got, err = f.orders.List(context.Background(), models.OrderFilter{Limit: 2})
	if err != nil || len(got) != 2 {
		t.Errorf("limited list = %d, %v", len(got), err)
	}

	bad := models.Status("LOST")
	if _, err := f.orders.List(context.Background(), models.OrderFilter{Status: &bad}); !errors.Is(err, core.ErrValidation) {
		t.Errorf("bad status err = %v", err)
	}
}

type mapCache struct {
	mu   sync.Mutex
	m    map[string]models.Order
	gens map[string]int64
	hits int
}

func newMapCache() *mapCache {
	return &mapCache{m: make(map[string]models.Order), gens: make(map[string]int64)}
}

func (c *mapCache) Get(_ context.Context, id string) (models.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.m[id]
	if ok {
		c.hits++
	}
	return o, ok
}

func (c *mapCache) Generation(_ context.Context, id string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[id], true
}

func (c *mapCache) Set(_ context.Context, o models.Order, gen int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[o.ID] != gen {
		return
	}
	c.m[o.ID] = o
}

func (c *mapCache) Invalidate(_ context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[id]++
	delete(c.m, id)
}

func TestGetUsesCacheAndTransitionInvalidates(t *testing.T) {
	f := newFixture(t)
	cache := newMapCache()
	f.orders.cache = cache

	o := f.create(t, takeaway(item("burger", 1)))
	for i := 0; i < 2; i++ {
		if _, err := f.orders.Get(context.Background(), o.ID); err != nil {
			t.Fatal(err)
		}
	}
	if cache.hits != 1 {
		t.Errorf("cache hits = %d, want 1", cache.hits)
	}

	f.transition(t, o.ID, models.StatusInPreparation)
	got, err := f.orders.Get(context.Background(), o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusInPreparation {
		t.Errorf("stale cached status %s", got.Status)
	}
}

// pausedReads holds the next Repos().Orders.Get after it has read the
// store, until release is closed.
type pausedReads struct {
	core.IStore
	armed   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func (s *pausedReads) Repos() core.Repos {
	r := s.IStore.Repos()
	if s.armed.CompareAndSwap(true, false) {
		r.Orders = pausedOrderRepo{IOrderRepo: r.Orders, read: s.read, release: s.release}
	}
	return r
}

type pausedOrderRepo struct {
	core.IOrderRepo
	read    chan struct{}
	release chan struct{}
}

func (r pausedOrderRepo) Get(ctx context.Context, id string) (models.Order, error) {
	o, err := r.IOrderRepo.Get(ctx, id)
	close(r.read)
	<-r.release
	return o, err
}

func TestGetDoesNotCacheSnapshotReadBeforeTransition(t *testing.T) {
	mem := memory.New()
	store := &pausedReads{IStore: mem, read: make(chan struct{}), release: make(chan struct{})}
	f := newFixtureWith(t, store, mem, OrderOptions{RequireFulfilled: true, RetryAttempts: 3, RetryBackoff: time.Millisecond})
	cache := newMapCache()
	f.orders.cache = cache

	o := f.create(t, takeaway(item("burger", 1)))
	store.armed.Store(true)

	done := make(chan error, 1)
	go func() {
		_, err := f.orders.Get(context.Background(), o.ID)
		done <- err
	}()

	<-store.read
	f.transition(t, o.ID, models.StatusInPreparation)
	close(store.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	got, err := f.orders.Get(context.Background(), o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusInPreparation || got.Version != 2 {
		t.Fatalf("Get returned %s at version %d, want IN_PREPARATION at version 2", got.Status, got.Version)
	}
	cached, ok := cache.Get(context.Background(), o.ID)
	if !ok || cached.Version != 2 {
		t.Errorf("cache holds %+v (present %v), want version 2", cached, ok)
	}
}

func TestCreateDeterministicIDs(t *testing.T) {
	f := newFixture(t)
	var seq int
	f.orders.newID = func() string {
		seq++
		return fmt.Sprintf("ord-%03d", seq)
	}
	o := f.create(t, takeaway(item("soda", 1)))
	if o.ID != "ord-001" {
		t.Errorf("id = %s", o.ID)
	}
}
