package booking

import (
	"errors"
	"fmt"
)

// Reason tells a caller whether to try another class or date, fix the request,
// or try again later.
type Reason string

const (
	ReasonNoSeats         Reason = "no_seats"
	ReasonInvalidRoute    Reason = "invalid_route"
	ReasonInvalidSchedule Reason = "invalid_schedule"
	ReasonInvalidRequest  Reason = "invalid_request"
	ReasonStorageFailure  Reason = "storage_failure"
)

var (
	ErrNoSeats         = errors.New("no seats available")
	ErrInvalidRoute    = errors.New("invalid route")
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrInvalidRequest  = errors.New("invalid booking request")
	ErrStorageFailure  = errors.New("storage failure")
)

var sentinels = map[Reason]error{
	ReasonNoSeats:         ErrNoSeats,
	ReasonInvalidRoute:    ErrInvalidRoute,
	ReasonInvalidSchedule: ErrInvalidSchedule,
	ReasonInvalidRequest:  ErrInvalidRequest,
	ReasonStorageFailure:  ErrStorageFailure,
}

// Error is returned by Book. errors.Is matches both the sentinel for its Reason
// and the underlying cause.
type Error struct {
	Reason Reason
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return sentinels[e.Reason] == target
}

func newError(reason Reason, msg string, err error) *Error {
	return &Error{Reason: reason, Msg: msg, Err: err}
}

// ReasonOf extracts the reason from err, or "" if err did not come from Book.
func ReasonOf(err error) Reason {
	var be *Error
	if errors.As(err, &be) {
		return be.Reason
	}
	return ""
}
