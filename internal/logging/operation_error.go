package logging

import "fmt"

// OperationError annotates an error with operation metadata.
type OperationError struct {
	Operation string
	CycleID   string
	PlantID   int64
	Err       error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	switch {
	case e.PlantID != 0 && e.CycleID != "":
		return fmt.Sprintf("%s (plant_id=%d cycle_id=%s): %v", e.Operation, e.PlantID, e.CycleID, e.Err)
	case e.PlantID != 0:
		return fmt.Sprintf("%s (plant_id=%d): %v", e.Operation, e.PlantID, e.Err)
	case e.CycleID != "":
		return fmt.Sprintf("%s (cycle_id=%s): %v", e.Operation, e.CycleID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps an error with structured context about where it occurred.
// A zero plantID means the operation is not tied to a single plant.
func NewOperationError(operation, cycleID string, plantID int64, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, CycleID: cycleID, PlantID: plantID, Err: err}
}
