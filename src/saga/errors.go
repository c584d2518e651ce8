package saga

import "fmt"

// ProcessingError describes a command that could not be taken through the saga.
type ProcessingError struct {
	// Stage is "decode" or the event type whose step failed.
	Stage         string
	TransactionID string
	Err           error
}

func (e *ProcessingError) Error() string {
	if e.TransactionID == "" {
		return fmt.Sprintf("saga %s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("saga %s failed for transaction %s: %v", e.Stage, e.TransactionID, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
