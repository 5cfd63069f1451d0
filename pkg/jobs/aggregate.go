package jobs

import (
	"fmt"
)

// AggregateError keeps the first job error as primary and every later
// one as suppressed, in arrival order.
type AggregateError struct {
	primary    error
	suppressed []error
}

func newAggregateError(primary error) *AggregateError {
	return &AggregateError{primary: primary}
}

func (e *AggregateError) add(err error) {
	e.suppressed = append(e.suppressed, err)
}

func (e *AggregateError) snapshot() *AggregateError {
	return &AggregateError{
		primary:    e.primary,
		suppressed: append([]error(nil), e.suppressed...),
	}
}

func (e *AggregateError) Error() string {
	switch len(e.suppressed) {
	case 0:
		return e.primary.Error()
	case 1:
		return fmt.Sprintf("%s (1 suppressed error: %s)", e.primary.Error(), e.suppressed[0].Error())
	default:
		return fmt.Sprintf("%s (%d suppressed errors)", e.primary.Error(), len(e.suppressed))
	}
}

// Primary returns the first error reported
func (e *AggregateError) Primary() error {
	return e.primary
}

// Suppressed returns the errors reported after the primary one
func (e *AggregateError) Suppressed() []error {
	return append([]error(nil), e.suppressed...)
}

// Unwrap exposes every aggregated error to errors.Is and errors.As
func (e *AggregateError) Unwrap() []error {
	return append([]error{e.primary}, e.suppressed...)
}
