package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Stable machine-readable reason codes for validation failures.
const (
	ReasonMissingField  = "missing_field"
	ReasonInvalidInput  = "invalid_input"
	ReasonPastDate      = "past_date"
	ReasonNonWorkingDay = "non_working_day"
	ReasonTooFarAdvance = "too_far_advance"
	ReasonOutsideHours  = "outside_hours"
	ReasonRateLimited   = "rate_limited"
)

type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

func Invalid(reason string) error {
	return &ValidationError{Reason: reason}
}

// SlotTakenError reports a booking conflict together with up to three
// alternative open slots for the same staff and day.
type SlotTakenError struct {
	Alternatives []string
}

func (e *SlotTakenError) Error() string {
	if len(e.Alternatives) == 0 {
		return "slot is already taken"
	}
	return "slot is already taken, alternatives: " + strings.Join(e.Alternatives, ", ")
}

var ErrDuplicateSubmission = errors.New("duplicate submission")

var ErrNotFound = errors.New("appointment not found")

// StorageError marks a transaction or commit failure as a system fault
// rather than a client error.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure: %v", e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
