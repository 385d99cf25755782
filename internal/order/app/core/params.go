package core

type OrderParams struct {
	Port          int
	MaxConcurrent int
	Store         string
}

const (
	// in seconds for db response
	WaitTime = 20

	MinItems        = 1
	MaxItems        = 50
	MinItemQuantity = 1
	MaxItemQuantity = 100
	MinTableNumber  = 1
	MaxTableNumber  = 500
	MaxNotesLen     = 500

	DefaultListLimit = 100
	MaxListLimit     = 1000
	MaxSeriesDays    = 366

	OutboxBatchSize = 50
	// in seconds for one broker publish
	PublishTimeout = 5

	ChangedBySystem = "order-service"
)
