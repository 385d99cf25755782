package core

import (
	"context"
	"time"

	"kitchen-ledger/internal/order/domain/models"
)

type IOrderRepo interface {
	// Create inserts order. Inserting an id that already exists is a no-op.
	Create(ctx context.Context, order models.Order) error
	Get(ctx context.Context, id string) (models.Order, error)
	List(ctx context.Context, filter models.OrderFilter) ([]models.Order, error)
	// UpdateStatus moves the order from one status to another, guarded by
	// the expected version. A failed guard returns ErrConflict.
	UpdateStatus(ctx context.Context, id string, from models.Status, version int, to models.Status, at time.Time) (models.Order, error)
	SetDocumentState(ctx context.Context, id string, version int, state models.DocumentState, at time.Time) (models.Order, error)
	AppendStatusLog(ctx context.Context, entry models.StatusLog) error
	History(ctx context.Context, id string) ([]models.StatusLog, error)
}

// RollupResult is the outcome of one ApplyRollup call. Previous is the
// aggregate of the closest earlier day, nil if there is none.
type RollupResult struct {
	Previous *models.DailyAggregate
	Current  *models.DailyAggregate
	Applied  bool
}

type IAggregateRepo interface {
	// ApplyRollup upserts the aggregate of ev.Day and applies ev as one
	// atomic unit. Applied is false when ev.OrderID was already counted.
	ApplyRollup(ctx context.Context, ev models.RollupEvent, now time.Time) (RollupResult, error)
	Get(ctx context.Context, day time.Time) (*models.DailyAggregate, error)
	Latest(ctx context.Context) (*models.DailyAggregate, error)
	Range(ctx context.Context, from, to time.Time) ([]*models.DailyAggregate, error)
}

type IOutboxRepo interface {
	// Add is idempotent on event id.
	Add(ctx context.Context, ev models.OutboxEvent) error
	Pending(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkSent(ctx context.Context, ids []string, at time.Time) error
}

type Repos struct {
	Orders     IOrderRepo
	Aggregates IAggregateRepo
	Outbox     IOutboxRepo
}

// IStore bundles the repositories and runs them inside one transaction.
type IStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
	Repos() Repos
	IsAlive(ctx context.Context) error
	Close() error
}

type IProductCatalog interface {
	Resolve(ctx context.Context, ref string) (models.Product, error)
}

// IOrderCache is an optional read-through cache in front of IOrderRepo.Get.
//
// Readers take Generation before reading the store and hand it to Set.
// Invalidate changes the generation, so a snapshot read before a write
// committed is never cached after it.
type IOrderCache interface {
	Get(ctx context.Context, id string) (models.Order, bool)
	// Generation reports false when the cache cannot tell; Set must then
	// be skipped.
	Generation(ctx context.Context, id string) (int64, bool)
	Set(ctx context.Context, order models.Order, gen int64)
	Invalidate(ctx context.Context, id string)
}
