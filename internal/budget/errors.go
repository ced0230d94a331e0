package budget

import (
	"errors"
	"fmt"
)

// ErrBudgetExceeded is matched by every *ExceededError and *OverflowError.
// Callers must not retry a call rejected with it.
var ErrBudgetExceeded = errors.New("budget exceeded")

// ErrWouldExceed is matched by *OverflowError only: the day is still open,
// but this estimate does not fit. A cheaper call may.
var ErrWouldExceed = errors.New("estimate exceeds remaining budget")

// ExceededError is returned by CheckAndReserve when the status blocks all
// spending for the rest of the day.
type ExceededError struct {
	Status    Status
	Spent     float64
	Limit     float64
	Remaining float64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("budget %s: spent $%.4f of $%.2f daily limit ($%.4f remaining)",
		e.Status, e.Spent, e.Limit, e.Remaining)
}

func (e *ExceededError) Is(target error) bool { return target == ErrBudgetExceeded }

// OverflowError is returned by CheckAndReserve when the status still
// allows spending but spent + held + Estimate would pass the limit.
// Status is the current status, not a blocking one.
type OverflowError struct {
	Status    Status
	Spent     float64
	Reserved  float64
	Estimate  float64
	Limit     float64
	Remaining float64
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("budget %s: estimate $%.4f exceeds $%.4f remaining of $%.2f daily limit",
		e.Status, e.Estimate, e.Remaining, e.Limit)
}

func (e *OverflowError) Is(target error) bool {
	return target == ErrWouldExceed || target == ErrBudgetExceeded
}
