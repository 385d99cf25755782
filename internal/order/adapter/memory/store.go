package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/domain/models"
)

// Store keeps orders, aggregates and the outbox in process memory.
//
// Rollups on the latest existing day take a shared structure lock plus the
// day's own mutex, so they only contend with rollups on the same day.
// Seeding a new day, or landing on a day that already has later days,
// takes the structure lock exclusively because running totals of other
// days are read or bumped.
type Store struct {
	mu     sync.RWMutex
	orders map[string]models.Order
	logs   map[string][]models.StatusLog
	outbox []*outboxEntry
	outIdx map[string]*outboxEntry

	structMu sync.RWMutex
	days     map[time.Time]*dayEntry

	applyHook  func(models.RollupEvent) error
	commitHook func() error
}

type dayEntry struct {
	mu      sync.Mutex
	agg     *models.DailyAggregate
	applied map[string]struct{}
}

type outboxEntry struct {
	ev     models.OutboxEvent
	sent   bool
	sentAt time.Time
}

type Option func(*Store)

// WithApplyHook runs fn before every rollup; a returned error fails it.
func WithApplyHook(fn func(models.RollupEvent) error) Option {
	return func(s *Store) { s.applyHook = fn }
}

// WithCommitHook runs fn before every commit; a returned error aborts it.
func WithCommitHook(fn func() error) Option {
	return func(s *Store) { s.commitHook = fn }
}

func New(opts ...Option) *Store {
	s := &Store{
		orders: make(map[string]models.Order),
		logs:   make(map[string][]models.StatusLog),
		outIdx: make(map[string]*outboxEntry),
		days:   make(map[time.Time]*dayEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ core.IStore = (*Store)(nil)

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, r core.Repos) error) error {
	if err := ctx.Err(); err != nil {
		return core.Transient(core.ReasonStoreTimeout, "memory store: %v", err)
	}

	t := newTx(s)
	defer t.release()

	if err := fn(ctx, t.repos()); err != nil {
		return err
	}
	return t.commit(ctx)
}

func (s *Store) Repos() core.Repos {
	return core.Repos{
		Orders:     autoOrders{s: s},
		Aggregates: autoAggregates{s: s},
		Outbox:     autoOutbox{s: s},
	}
}

func (s *Store) IsAlive(context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return nil
}

// sortedDays returns day keys ascending. Caller holds structMu.
func (s *Store) sortedDays() []time.Time {
	keys := make([]time.Time, 0, len(s.days))
	for d := range s.days {
		keys = append(keys, d)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	return keys
}

// hasLaterDay reports whether any aggregate exists after day. Caller holds structMu.
func (s *Store) hasLaterDay(day time.Time) bool {
	for d := range s.days {
		if d.After(day) {
			return true
		}
	}
	return false
}

// previousDay returns the closest day before day. Caller holds structMu.
func (s *Store) previousDay(day time.Time) (time.Time, *dayEntry) {
	var (
		best  time.Time
		found *dayEntry
	)
	for d, e := range s.days {
		if d.Before(day) && (found == nil || d.After(best)) {
			best, found = d, e
		}
	}
	return best, found
}
