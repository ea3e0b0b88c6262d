package history

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskNotFound is returned when a task id is not in the collection.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidState is returned for an unknown task state.
	ErrInvalidState = errors.New("invalid task state")
	// ErrEmptyText is returned when creating a task without text.
	ErrEmptyText = errors.New("task text is required")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("history store closed")
)

// PersistenceError reports a failed read or write of durable storage.
// The in-memory collection already reflects the mutation when it is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
