package lifecycle

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrTerminal   = errors.New("state is terminal")
	ErrNotAllowed = errors.New("transition not allowed")
)

// Machine describes a state machine whose legal moves may depend on a
// context value, such as the fulfillment type of an order.
type Machine[S comparable, C any] interface {
	AllowedNextStates(current S, c C) []S
}

// Check reports whether target is reachable from current in one step.
func Check[S comparable, C any](m Machine[S, C], current, target S, c C) error {
	next := m.AllowedNextStates(current, c)
	if len(next) == 0 {
		return fmt.Errorf("%w: %v", ErrTerminal, current)
	}
	if !slices.Contains(next, target) {
		return fmt.Errorf("%w: %v -> %v", ErrNotAllowed, current, target)
	}
	return nil
}

func IsTerminal[S comparable, C any](m Machine[S, C], current S, c C) bool {
	return len(m.AllowedNextStates(current, c)) == 0
}
