package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type FulfillmentType string

const (
	DineIn   FulfillmentType = "dine_in"
	Takeaway FulfillmentType = "takeaway"
	Delivery FulfillmentType = "delivery"
)

func (t FulfillmentType) Valid() bool {
	switch t {
	case DineIn, Takeaway, Delivery:
		return true
	}
	return false
}

// Status is the kitchen-facing lifecycle status of an order.
type Status string

const (
	StatusReceived       Status = "RECEIVED"
	StatusInPreparation  Status = "IN_PREPARATION"
	StatusReadyToServe   Status = "READY_TO_SERVE"
	StatusReadyForPickup Status = "READY_FOR_PICKUP"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusServed         Status = "SERVED"
	StatusDelivered      Status = "DELIVERED"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
	StatusFailedDelivery Status = "FAILED_DELIVERY"
)

var AllStatuses = []Status{
	StatusReceived,
	StatusInPreparation,
	StatusReadyToServe,
	StatusReadyForPickup,
	StatusOutForDelivery,
	StatusServed,
	StatusDelivered,
	StatusCompleted,
	StatusCancelled,
	StatusFailedDelivery,
}

func (s Status) Valid() bool {
	for _, st := range AllStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// DocumentState is the order/invoice flag, independent of Status.
type DocumentState string

const (
	DocumentOrder   DocumentState = "order"
	DocumentInvoice DocumentState = "invoice"
)

// Item is one order line. UnitPrice is the price snapshot taken at checkout.
type Item struct {
	ProductRef string          `json:"product_ref"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID            string          `json:"id"`
	Items         []Item          `json:"items"`
	ProductNames  []string        `json:"product_names"`
	Total         decimal.Decimal `json:"total"`
	Type          FulfillmentType `json:"fulfillment_type"`
	Status        Status          `json:"status"`
	TableNumber   *int            `json:"table_number,omitempty"`
	Notes         *string         `json:"notes,omitempty"`
	DocumentState DocumentState   `json:"document_state"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ComputeTotal sums unit price times quantity over every line.
func ComputeTotal(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// Clone returns a deep copy so stores never hand out shared slices.
func (o Order) Clone() Order {
	c := o
	c.Items = append([]Item(nil), o.Items...)
	c.ProductNames = append([]string(nil), o.ProductNames...)
	if o.TableNumber != nil {
		n := *o.TableNumber
		c.TableNumber = &n
	}
	if o.Notes != nil {
		n := *o.Notes
		c.Notes = &n
	}
	return c
}

type StatusLog struct {
	OrderID   string    `json:"order_id"`
	Status    Status    `json:"status"`
	ChangedBy string    `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
	Note      string    `json:"note"`
}

// OrderFilter narrows List. Zero values mean "any".
type OrderFilter struct {
	Status *Status
	Type   *FulfillmentType
	From   time.Time
	To     time.Time
	Limit  int
}

func (f OrderFilter) Match(o Order) bool {
	if f.Status != nil && *f.Status != o.Status {
		return false
	}
	if f.Type != nil && *f.Type != o.Type {
		return false
	}
	if !f.From.IsZero() && o.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !o.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

// Product is what the catalog resolves a product reference to.
type Product struct {
	Ref    string          `json:"ref"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Active bool            `json:"active"`
}

// OutboxEvent is an integration event written in the same transaction as
// the state change it describes.
type OutboxEvent struct {
	ID          string    `json:"id"`
	AggregateID string    `json:"aggregate_id"`
	Type        string    `json:"event_type"`
	Payload     []byte    `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderInvoiced      = "order.invoiced"
)
