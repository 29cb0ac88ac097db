// Package capacity validates reservoir capacities against a unit's
// total-liters budget. It is pure arithmetic; callers are responsible for
// reading the inputs inside the same transaction as the write they guard.
package capacity

import "fmt"

// ExceedsUnitError reports a single reservoir larger than the whole unit.
type ExceedsUnitError struct {
	UnitCapacity int
	Requested    int
}

func (e *ExceedsUnitError) Error() string {
	return fmt.Sprintf("a reservoir cannot exceed the unit's total capacity of %d liters", e.UnitCapacity)
}

// AggregateExceededError reports that committed plus requested capacity
// overshoots the unit budget.
type AggregateExceededError struct {
	UnitCapacity int
	Committed    int
	Requested    int
}

func (e *AggregateExceededError) Error() string {
	return fmt.Sprintf(
		"total reservoir capacity exceeds the unit's capacity: unit capacity %d liters, already committed %d liters, requested %d more liters",
		e.UnitCapacity, e.Committed, e.Requested)
}

// Validate decides whether a reservoir of candidate liters fits a unit of
// unitCapacity liters that already committed the given reservoir capacities.
func Validate(unitCapacity int, existing []int, candidate int) error {
	if candidate > unitCapacity {
		return &ExceedsUnitError{UnitCapacity: unitCapacity, Requested: candidate}
	}

	committed := 0
	for _, c := range existing {
		committed += c
	}
	if committed+candidate > unitCapacity {
		return &AggregateExceededError{
			UnitCapacity: unitCapacity,
			Committed:    committed,
			Requested:    candidate,
		}
	}
	return nil
}
