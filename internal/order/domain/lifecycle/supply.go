package lifecycle

import (
	"slices"

	"kitchen-ledger/internal/order/domain/models"
)

// NoContext is the context of machines whose moves depend on nothing else.
type NoContext struct{}

// Supply is the lifecycle of supplier and market orders.
type Supply struct{}

var _ Machine[models.SupplyStatus, NoContext] = Supply{}

var supplyNext = map[models.SupplyStatus][]models.SupplyStatus{
	models.SupplyPending:    {models.SupplyProcessing, models.SupplyCancelled},
	models.SupplyProcessing: {models.SupplyShipped, models.SupplyCancelled},
	models.SupplyShipped:    {models.SupplyDelivered},
	models.SupplyDelivered:  {models.SupplyCompleted},
}

func (Supply) AllowedNextStates(current models.SupplyStatus, _ NoContext) []models.SupplyStatus {
	return slices.Clone(supplyNext[current])
}
