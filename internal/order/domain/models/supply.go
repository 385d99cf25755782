package models

// SupplyStatus is the coarse vocabulary used for supplier and market orders.
// It is deliberately a separate type from Status.
type SupplyStatus string

const (
	SupplyPending    SupplyStatus = "pending"
	SupplyProcessing SupplyStatus = "processing"
	SupplyShipped    SupplyStatus = "shipped"
	SupplyDelivered  SupplyStatus = "delivered"
	SupplyCompleted  SupplyStatus = "completed"
	SupplyCancelled  SupplyStatus = "cancelled"
)
