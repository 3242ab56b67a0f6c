package docstore

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrNotFound        = errors.New("docstore: document not found")
	ErrAlreadyExists   = errors.New("docstore: document already exists")
	ErrPushUnsupported = errors.New("docstore: store does not support subscriptions")
	ErrInvalidQuery    = errors.New("docstore: invalid query")
	ErrInvalidValue    = errors.New("docstore: unsupported value")
	ErrClosed          = errors.New("docstore: listener closed")

	ErrFailedPrecondition = errors.New("docstore: precondition failed")
)

// NotFoundError reports which document was missing. ID may be empty when the
// backend cannot tell which document of a batch was absent.
type NotFoundError struct {
	Collection string
	ID         string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("docstore: document not found in %s", e.Collection)
	}
	return fmt.Sprintf("docstore: document %s/%s not found", e.Collection, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ExistsError reports a Create against an existing document.
type ExistsError struct {
	Collection string
	ID         string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("docstore: document %s/%s already exists", e.Collection, e.ID)
}

func (e *ExistsError) Is(target error) bool {
	return target == ErrAlreadyExists
}

// PreconditionError reports a guarded update whose condition did not hold
// for the stored document.
type PreconditionError struct {
	Collection string
	ID         string
	Condition  Filter
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("docstore: document %s/%s: condition %s %s %v not met",
		e.Collection, e.ID, e.Condition.Path, e.Condition.Op, e.Condition.Value)
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrFailedPrecondition
}

// StorageError wraps a transport, driver or permission failure from a backend.
type StorageError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StorageError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("docstore: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("docstore: %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// WrapStorage wraps err as a StorageError unless it is nil or already one of
// the store's own error kinds.
func WrapStorage(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrInvalidQuery) || errors.Is(err, ErrInvalidValue) ||
		errors.Is(err, ErrFailedPrecondition) {
		return err
	}
	return &StorageError{Op: op, Collection: collection, Err: err}
}

// IsStorageError reports whether err carries a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
