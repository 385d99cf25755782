package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/domain/dto"
	"kitchen-ledger/internal/order/domain/lifecycle"
	"kitchen-ledger/internal/order/domain/models"
	"kitchen-ledger/internal/xpkg/logger"

	"github.com/google/uuid"
)

type OrderOptions struct {
	// RequireFulfilled makes invoicing wait for SERVED, DELIVERED or COMPLETED.
	RequireFulfilled bool
	RetryAttempts    int
	RetryBackoff     time.Duration
	StoreTimeout     time.Duration
}

type OrderService struct {
	store   core.IStore
	catalog core.IProductCatalog
	cache   core.IOrderCache
	rollup  *RollupService
	clock   core.Clock
	opts    OrderOptions
	mylog   logger.Logger
	newID   func() string
}

// NewOrderService wires the order core. cache may be nil.
func NewOrderService(
	store core.IStore,
	catalog core.IProductCatalog,
	cache core.IOrderCache,
	rollup *RollupService,
	clock core.Clock,
	opts OrderOptions,
	mylogger logger.Logger,
) *OrderService {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 50 * time.Millisecond
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = core.WaitTime * time.Second
	}
	return &OrderService{
		store:   store,
		catalog: catalog,
		cache:   cache,
		rollup:  rollup,
		clock:   clock,
		opts:    opts,
		mylog:   mylogger,
		newID:   uuid.NewString,
	}
}

var fulfilled = map[models.Status]bool{
	models.StatusServed:    true,
	models.StatusDelivered: true,
	models.StatusCompleted: true,
}

// Create validates req, snapshots product names and prices, and stores the
// order together with its rollup, status log entry and outbox event.
func (os *OrderService) Create(ctx context.Context, req dto.OrderRequest) (models.Order, error) {
	mylog := os.mylog.Action("create_order")

	if err := os.ValidateOrder(req); err != nil {
		mylog.Debug("Order rejected", "reason", core.ReasonOf(err), "error", err.Error())
		return models.Order{}, err
	}

	order, err := os.snapshot(ctx, req)
	if err != nil {
		return models.Order{}, err
	}
	mylog = mylog.With("order_id", order.ID)

	// Retries reuse the order id, so a commit whose acknowledgement was
	// lost is detected by the rollup and not counted twice.
	err = os.withRetry(ctx, mylog, func(ctx context.Context, _ int) error {
		return os.store.InTx(ctx, func(ctx context.Context, r core.Repos) error {
			if err := r.Orders.Create(ctx, order); err != nil {
				return err
			}
			res, err := os.rollup.ApplyCreationEvent(ctx, r.Aggregates, order, os.clock.Now())
			if err != nil {
				return err
			}
			if !res.Applied {
				return nil
			}
			if err := r.Orders.AppendStatusLog(ctx, models.StatusLog{
				OrderID:   order.ID,
				Status:    order.Status,
				ChangedBy: core.ChangedBySystem,
				ChangedAt: order.CreatedAt,
				Note:      "order received",
			}); err != nil {
				return err
			}
			ev, err := os.event(models.EventOrderCreated, order, "", core.ChangedBySystem)
			if err != nil {
				return err
			}
			return r.Outbox.Add(ctx, ev)
		})
	})
	if err != nil {
		if errors.Is(err, core.ErrTransientStore) {
			os.mylog.Action("rollup_reconciliation_candidate").Warn("Order creation outcome unknown",
				"order_id", order.ID, "day", models.FormatDay(models.DayOf(order.CreatedAt, os.rollup.loc)), "error", err.Error())
		} else {
			mylog.Error("Failed to create order", err)
		}
		return models.Order{}, err
	}

	mylog.Info("Order created", "total", order.Total.String(), "fulfillment_type", order.Type, "items", len(order.Items))
	return order, nil
}

func (os *OrderService) snapshot(ctx context.Context, req dto.OrderRequest) (models.Order, error) {
	now := os.clock.Now()
	order := models.Order{
		ID:            os.newID(),
		Type:          models.FulfillmentType(req.Type),
		Status:        models.StatusReceived,
		TableNumber:   req.TableNumber,
		Notes:         req.Notes,
		DocumentState: models.DocumentOrder,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	for i, item := range req.Items {
		p, err := os.catalog.Resolve(ctx, item.ProductRef)
		if err != nil {
			return models.Order{}, err
		}
		if !p.Active {
			return models.Order{}, core.Validation(core.ReasonProductInactive, "item %d: product %s is not available", i+1, p.Ref)
		}
		order.Items = append(order.Items, models.Item{ProductRef: p.Ref, Quantity: item.Quantity, UnitPrice: p.Price})
		order.ProductNames = append(order.ProductNames, p.Name)
	}
	order.Total = models.ComputeTotal(order.Items)
	return order, nil
}

func (os *OrderService) Get(ctx context.Context, id string) (models.Order, error) {
	var (
		gen       int64
		cacheable bool
	)
	if os.cache != nil {
		if o, ok := os.cache.Get(ctx, id); ok {
			return o, nil
		}
		gen, cacheable = os.cache.Generation(ctx, id)
	}

	ctx, cancel := context.WithTimeout(ctx, os.opts.StoreTimeout)
	defer cancel()
	o, err := os.store.Repos().Orders.Get(ctx, id)
	if err != nil {
		return models.Order{}, err
	}
	if cacheable {
		os.cache.Set(ctx, o, gen)
	}
	return o, nil
}

func (os *OrderService) List(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, core.Validation(core.ReasonInvalidStatus, "unknown status %q", *filter.Status)
	}
	if filter.Type != nil && !filter.Type.Valid() {
		return nil, core.Validation(core.ReasonInvalidType, "undefined fulfillment type: %q", *filter.Type)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, core.Validation(core.ReasonInvalidRange, "from must be before to")
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = core.DefaultListLimit
	case filter.Limit > core.MaxListLimit:
		filter.Limit = core.MaxListLimit
	}

	ctx, cancel := context.WithTimeout(ctx, os.opts.StoreTimeout)
	defer cancel()
	return os.store.Repos().Orders.List(ctx, filter)
}

// Transition moves an order to req.Status. It never touches analytics.
func (os *OrderService) Transition(ctx context.Context, id string, req dto.TransitionRequest) (models.Order, error) {
	mylog := os.mylog.Action("transition_order").With("order_id", id, "target", req.Status)

	target := models.Status(req.Status)
	if !target.Valid() {
		return models.Order{}, core.Validation(core.ReasonInvalidStatus, "unknown status %q", req.Status)
	}
	changedBy := req.ChangedBy
	if changedBy == "" {
		changedBy = core.ChangedBySystem
	}

	var updated models.Order
	err := os.withRetry(ctx, mylog, func(ctx context.Context, attempt int) error {
		return os.store.InTx(ctx, func(ctx context.Context, r core.Repos) error {
			cur, err := r.Orders.Get(ctx, id)
			if err != nil {
				return err
			}
			// an earlier attempt committed without an acknowledgement
			if attempt > 0 && cur.Status == target {
				updated = cur
				return nil
			}
			if req.ExpectedVersion != nil && *req.ExpectedVersion != cur.Version {
				return core.Conflict(core.ReasonStaleVersion,
					"order %s is at version %d, expected %d", id, cur.Version, *req.ExpectedVersion)
			}
			if err := checkKitchenTransition(cur, target); err != nil {
				return err
			}

			now := os.clock.Now()
			updated, err = r.Orders.UpdateStatus(ctx, id, cur.Status, cur.Version, target, now)
			if err != nil {
				return err
			}
			if err := r.Orders.AppendStatusLog(ctx, models.StatusLog{
				OrderID:   id,
				Status:    target,
				ChangedBy: changedBy,
				ChangedAt: now,
				Note:      req.Note,
			}); err != nil {
				return err
			}
			ev, err := os.event(models.EventOrderStatusChanged, updated, cur.Status, changedBy)
			if err != nil {
				return err
			}
			return r.Outbox.Add(ctx, ev)
		})
	})
	if os.cache != nil {
		os.cache.Invalidate(ctx, id)
	}
	if err != nil {
		mylog.Debug("Transition rejected", "reason", core.ReasonOf(err), "error", err.Error())
		return models.Order{}, err
	}

	mylog.Info("Order status changed", "status", updated.Status, "version", updated.Version)
	return updated, nil
}

func checkKitchenTransition(cur models.Order, target models.Status) error {
	err := lifecycle.Check[models.Status, models.FulfillmentType](lifecycle.Kitchen{}, cur.Status, target, cur.Type)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, lifecycle.ErrTerminal):
		return core.InvalidTransition(core.ReasonTerminalState,
			"cannot change a %s order: %s is terminal", cur.Type, cur.Status)
	default:
		return core.InvalidTransition(core.ReasonNotAllowed,
			"cannot move a %s order from %s to %s", cur.Type, cur.Status, target)
	}
}

// ValidateInvoice flips the document state of an order to invoice.
func (os *OrderService) ValidateInvoice(ctx context.Context, id string, req dto.InvoiceRequest) (models.Order, error) {
	mylog := os.mylog.Action("validate_invoice").With("order_id", id)
	changedBy := req.ChangedBy
	if changedBy == "" {
		changedBy = core.ChangedBySystem
	}

	var updated models.Order
	err := os.withRetry(ctx, mylog, func(ctx context.Context, attempt int) error {
		return os.store.InTx(ctx, func(ctx context.Context, r core.Repos) error {
			cur, err := r.Orders.Get(ctx, id)
			if err != nil {
				return err
			}
			if cur.DocumentState == models.DocumentInvoice {
				if attempt > 0 {
					updated = cur
					return nil
				}
				return core.InvalidTransition(core.ReasonAlreadyInvoiced, "order %s is already invoiced", id)
			}
			if req.ExpectedVersion != nil && *req.ExpectedVersion != cur.Version {
				return core.Conflict(core.ReasonStaleVersion,
					"order %s is at version %d, expected %d", id, cur.Version, *req.ExpectedVersion)
			}
			if os.opts.RequireFulfilled && !fulfilled[cur.Status] {
				return core.InvalidTransition(core.ReasonInvoiceNotFulfilled,
					"order %s is %s; invoices need a served, delivered or completed order", id, cur.Status)
			}

			now := os.clock.Now()
			updated, err = r.Orders.SetDocumentState(ctx, id, cur.Version, models.DocumentInvoice, now)
			if err != nil {
				return err
			}
			if err := r.Orders.AppendStatusLog(ctx, models.StatusLog{
				OrderID:   id,
				Status:    cur.Status,
				ChangedBy: changedBy,
				ChangedAt: now,
				Note:      "invoice issued",
			}); err != nil {
				return err
			}
			ev, err := os.event(models.EventOrderInvoiced, updated, cur.Status, changedBy)
			if err != nil {
				return err
			}
			return r.Outbox.Add(ctx, ev)
		})
	})
	if os.cache != nil {
		os.cache.Invalidate(ctx, id)
	}
	if err != nil {
		mylog.Debug("Invoice rejected", "reason", core.ReasonOf(err), "error", err.Error())
		return models.Order{}, err
	}

	mylog.Info("Invoice issued", "version", updated.Version)
	return updated, nil
}

func (os *OrderService) History(ctx context.Context, id string) ([]models.StatusLog, error) {
	ctx, cancel := context.WithTimeout(ctx, os.opts.StoreTimeout)
	defer cancel()
	return os.store.Repos().Orders.History(ctx, id)
}

// withRetry runs fn with a per-attempt timeout and retries transient store
// errors with exponential backoff.
func (os *OrderService) withRetry(ctx context.Context, mylog logger.Logger, fn func(ctx context.Context, attempt int) error) error {
	backoff := os.opts.RetryBackoff
	for attempt := 0; ; attempt++ {
		actx, cancel := context.WithTimeout(ctx, os.opts.StoreTimeout)
		err := fn(actx, attempt)
		cancel()

		if err == nil || !errors.Is(err, core.ErrTransientStore) || attempt+1 >= os.opts.RetryAttempts {
			return err
		}
		mylog.Warn("Transient store error, retrying", "attempt", attempt+1, "backoff", backoff.String(), "error", err.Error())

		select {
		case <-ctx.Done():
			return core.Transient(core.ReasonStoreTimeout, "gave up after %d attempts: %v", attempt+1, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// event builds the outbox record for order at its current version. The id
// is derived from (order, version) so a retried transaction reuses it.
func (os *OrderService) event(eventType string, order models.Order, oldStatus models.Status, changedBy string) (models.OutboxEvent, error) {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(order.ID+"/"+strconv.Itoa(order.Version)+"/"+eventType)).String()
	payload, err := json.Marshal(dto.OrderEvent{
		EventID:       id,
		EventType:     eventType,
		OrderID:       order.ID,
		Status:        string(order.Status),
		OldStatus:     string(oldStatus),
		DocumentState: string(order.DocumentState),
		Type:          string(order.Type),
		Total:         order.Total,
		Version:       order.Version,
		ChangedBy:     changedBy,
		OccurredAt:    order.UpdatedAt,
	})
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("encode %s event for order %s: %w", eventType, order.ID, err)
	}
	return models.OutboxEvent{
		ID:          id,
		AggregateID: order.ID,
		Type:        eventType,
		Payload:     payload,
		CreatedAt:   order.UpdatedAt,
	}, nil
}
