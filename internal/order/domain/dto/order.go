package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderRequest struct {
	Items       []Item  `json:"items"`
	Type        string  `json:"fulfillment_type"`
	TableNumber *int    `json:"table_number,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

type Item struct {
	ProductRef string `json:"product_ref"`
	Quantity   int    `json:"quantity"`
}

type TransitionRequest struct {
	Status          string `json:"status"`
	ExpectedVersion *int   `json:"expected_version,omitempty"`
	ChangedBy       string `json:"changed_by,omitempty"`
	Note            string `json:"note,omitempty"`
}

type InvoiceRequest struct {
	ExpectedVersion *int   `json:"expected_version,omitempty"`
	ChangedBy       string `json:"changed_by,omitempty"`
}

// OrderEvent is the payload of every order outbox event.
type OrderEvent struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OrderID       string          `json:"order_id"`
	Status        string          `json:"status"`
	OldStatus     string          `json:"old_status,omitempty"`
	DocumentState string          `json:"document_state"`
	Type          string          `json:"fulfillment_type"`
	Total         decimal.Decimal `json:"total"`
	Version       int             `json:"version"`
	ChangedBy     string          `json:"changed_by"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
