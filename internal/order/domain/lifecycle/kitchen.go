package lifecycle

import (
	"slices"

	"kitchen-ledger/internal/order/domain/models"
)

// Kitchen is the order lifecycle used by staff actions. Dine-in orders are
// served at the table, takeaway and delivery orders go through pickup.
type Kitchen struct{}

var _ Machine[models.Status, models.FulfillmentType] = Kitchen{}

var (
	common = map[models.Status][]models.Status{
		models.StatusReceived: {models.StatusInPreparation, models.StatusCancelled},
	}

	dineIn = map[models.Status][]models.Status{
		models.StatusInPreparation: {models.StatusReadyToServe, models.StatusCancelled},
		models.StatusReadyToServe:  {models.StatusServed, models.StatusCancelled},
		models.StatusServed:        {models.StatusCompleted},
	}

	pickup = map[models.Status][]models.Status{
		models.StatusInPreparation:  {models.StatusReadyForPickup, models.StatusCancelled},
		models.StatusReadyForPickup: {models.StatusOutForDelivery, models.StatusCancelled},
		models.StatusOutForDelivery: {models.StatusDelivered, models.StatusFailedDelivery},
		models.StatusDelivered:      {models.StatusCompleted},
	}
)

func (Kitchen) AllowedNextStates(current models.Status, t models.FulfillmentType) []models.Status {
	if next, ok := common[current]; ok {
		return slices.Clone(next)
	}
	switch t {
	case models.DineIn:
		return slices.Clone(dineIn[current])
	case models.Takeaway, models.Delivery:
		return slices.Clone(pickup[current])
	}
	return nil
}
