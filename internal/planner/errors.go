package planner

import (
	"errors"
	"fmt"
)

// ErrNoOracle is returned when a command needs the oracle and none is
// configured.
var ErrNoOracle = errors.New("no planner oracle configured")

// PlanningError means no plan could be produced for a command. It is always
// recoverable: the user can retry or rephrase.
type PlanningError struct {
	Command string
	Reason  string
	Err     error
}

func (e *PlanningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not plan %q: %s: %v", e.Command, e.Reason, e.Err)
	}
	return fmt.Sprintf("could not plan %q: %s", e.Command, e.Reason)
}

func (e *PlanningError) Unwrap() error {
	return e.Err
}
