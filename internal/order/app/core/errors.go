package core

import (
	"errors"
	"fmt"
)

var (
	ErrParseCmd       = errors.New("cannot parse arguments")
	ErrHelp           = errors.New("")
	ErrModeFlag       = errors.New("mode flag is required")
	ErrUnknownService = errors.New("unknown service, write --help command to see valid services")

	ErrDBConn  = errors.New("db connection failure")
	ErrRMQConn = errors.New("rabbitmq connection failure")

	ErrMaxConcurentExceeded = errors.New("too many orders, try again later")
)

// Error kinds. Every error returned by the services wraps exactly one.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrConflict           = errors.New("concurrent modification")
	ErrTransientStore     = errors.New("store temporarily unavailable")
	ErrInvariantViolation = errors.New("invariant violation")
)

// Reason codes surfaced to clients.
const (
	ReasonInvalidJSON         = "invalid_json"
	ReasonEmptyItems          = "empty_items"
	ReasonTooManyItems        = "too_many_items"
	ReasonInvalidQuantity     = "invalid_quantity"
	ReasonInvalidType         = "invalid_fulfillment_type"
	ReasonTableNumberRequired = "table_number_required"
	ReasonTableNumberNotAllow = "table_number_not_allowed"
	ReasonInvalidTableNumber  = "invalid_table_number"
	ReasonNotesTooLong        = "notes_too_long"
	ReasonInvalidStatus       = "invalid_status"
	ReasonInvalidRange        = "invalid_range"
	ReasonProductInactive     = "product_inactive"
	ReasonProductNotFound     = "product_not_found"
	ReasonOrderNotFound       = "order_not_found"
	ReasonAggregateNotFound   = "aggregate_not_found"
	ReasonTerminalState       = "terminal_state"
	ReasonNotAllowed          = "transition_not_allowed"
	ReasonAlreadyInvoiced     = "already_invoiced"
	ReasonInvoiceNotFulfilled = "invoice_not_fulfilled"
	ReasonStaleVersion        = "stale_version"
	ReasonStoreTimeout        = "store_timeout"
	ReasonStoreUnavailable    = "store_unavailable"
	ReasonAggregateInvariant  = "aggregate_invariant"
)

// Error carries a kind, a machine-readable reason and a human message.
type Error struct {
	Kind    error
	Reason  string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, reason, format string, args ...any) error {
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func Validation(reason, format string, args ...any) error {
	return newError(ErrValidation, reason, format, args...)
}

func NotFound(reason, format string, args ...any) error {
	return newError(ErrNotFound, reason, format, args...)
}

func InvalidTransition(reason, format string, args ...any) error {
	return newError(ErrInvalidTransition, reason, format, args...)
}

func Conflict(reason, format string, args ...any) error {
	return newError(ErrConflict, reason, format, args...)
}

func Transient(reason, format string, args ...any) error {
	return newError(ErrTransientStore, reason, format, args...)
}

func InvariantViolation(format string, args ...any) error {
	return newError(ErrInvariantViolation, ReasonAggregateInvariant, format, args...)
}

// ReasonOf returns the reason code carried by err, or "".
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
