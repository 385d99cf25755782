package services

import (
	"unicode/utf8"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/domain/dto"
	"kitchen-ledger/internal/order/domain/models"
)

// ValidateOrder checks the request shape. Product existence is checked
// later against the catalog.
func (os *OrderService) ValidateOrder(order dto.OrderRequest) error {
	if err := os.validateOrderItems(order.Items); err != nil {
		return err
	}
	if err := os.validateOrderType(order); err != nil {
		return err
	}
	if order.Notes != nil && utf8.RuneCountInString(*order.Notes) > core.MaxNotesLen {
		return core.Validation(core.ReasonNotesTooLong, "notes must be at most %d characters", core.MaxNotesLen)
	}
	return nil
}

func (os *OrderService) validateOrderItems(items []dto.Item) error {
	if len(items) < core.MinItems {
		return core.Validation(core.ReasonEmptyItems, "order must contain at least %d item", core.MinItems)
	}
	if len(items) > core.MaxItems {
		return core.Validation(core.ReasonTooManyItems, "amount of items: %d, must be at most %d", len(items), core.MaxItems)
	}

	for i, item := range items {
		if item.ProductRef == "" {
			return core.Validation(core.ReasonProductNotFound, "item %d: product_ref is empty", i+1)
		}
		if item.Quantity < core.MinItemQuantity || item.Quantity > core.MaxItemQuantity {
			return core.Validation(core.ReasonInvalidQuantity,
				"item %d: quantity: %d, must be in range [%d, %d]", i+1, item.Quantity, core.MinItemQuantity, core.MaxItemQuantity)
		}
	}
	return nil
}

func (os *OrderService) validateOrderType(order dto.OrderRequest) error {
	t := models.FulfillmentType(order.Type)
	if !t.Valid() {
		return core.Validation(core.ReasonInvalidType, "undefined fulfillment type: %q", order.Type)
	}

	if t != models.DineIn {
		if order.TableNumber != nil {
			return core.Validation(core.ReasonTableNumberNotAllow, "table_number must not be present for %s orders", t)
		}
		return nil
	}

	if order.TableNumber == nil {
		return core.Validation(core.ReasonTableNumberRequired, "table_number is required for dine_in orders")
	}
	if n := *order.TableNumber; n < core.MinTableNumber || n > core.MaxTableNumber {
		return core.Validation(core.ReasonInvalidTableNumber,
			"table number: %d, must be in range [%d, %d]", n, core.MinTableNumber, core.MaxTableNumber)
	}
	return nil
}
