package repository

import (
	"errors"
	"fmt"

	"social-service/docstore"
)

// Sentinel errors. Typed errors below match them with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")

	// ErrSelfFollow rejects follow and unfollow where actor and target are
	// the same user. It also matches ErrValidation.
	ErrSelfFollow = &ValidationError{Field: "targetId", Message: "users cannot follow themselves"}
)

// NotFoundError reports a missing record where the caller requires one.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

type ConflictError struct {
	Kind string
	ID   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Kind, e.ID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// kindOf names the record kind stored in a collection.
func kindOf(collection string) string {
	switch collection {
	case usersCollection:
		return "profile"
	case usernamesCollection:
		return "username"
	case postsCollection:
		return "post"
	case conversationsCollection:
		return "conversation"
	case liveSessionsCollection:
		return "live session"
	}
	return "message"
}

// mapStoreError converts document store errors into repository errors.
// StorageError values are returned untouched so callers can still match
// them with errors.As.
func mapStoreError(err error) error {
	if err == nil {
		return nil
	}
	var nf *docstore.NotFoundError
	if errors.As(err, &nf) {
		return &NotFoundError{Kind: kindOf(nf.Collection), ID: nf.ID}
	}
	var ex *docstore.ExistsError
	if errors.As(err, &ex) {
		return &ConflictError{Kind: kindOf(ex.Collection), ID: ex.ID}
	}
	if docstore.IsStorageError(err) {
		return err
	}
	if errors.Is(err, docstore.ErrInvalidValue) || errors.Is(err, docstore.ErrInvalidQuery) {
		return fmt.Errorf("document store rejected request: %w", err)
	}
	return err
}
