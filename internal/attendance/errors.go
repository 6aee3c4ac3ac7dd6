package attendance

import (
	"errors"
)

var (
	// ErrInvalidInput is returned for malformed requests, before any mutation
	ErrInvalidInput = errors.New("attendance: invalid input")
	// ErrNotFound is returned for unknown persons or records
	ErrNotFound = errors.New("attendance: not found")
	// ErrInvalidState is returned when an update would leave a record inconsistent
	ErrInvalidState = errors.New("attendance: invalid state")
	// ErrStorage is matched by every failure that originates in the store
	ErrStorage = errors.New("attendance: storage failure")
)

type storageError struct {
	err error
}

func (e *storageError) Error() string { return "attendance: storage failure: " + e.err.Error() }

func (e *storageError) Unwrap() []error { return []error{ErrStorage, e.err} }

// storageFault tags store errors that do not already carry a kind
func storageFault(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrInvalidInput, ErrNotFound, ErrInvalidState, ErrStorage} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return &storageError{err: err}
}
