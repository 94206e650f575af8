package pipeline

import (
	"errors"
	"fmt"

	"contestbot/internal/delivery"
)

var (
	// ErrRunInProgress is returned when a trigger arrives while a run is active.
	ErrRunInProgress       = errors.New("pipeline: run already in progress")
	ErrAllRecipientsFailed = delivery.ErrAllRecipientsFailed
)

// FormatError is fatal to the run that raised it only.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string { return fmt.Sprintf("format digest: %v", e.Err) }

func (e *FormatError) Unwrap() error { return e.Err }
