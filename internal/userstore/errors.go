package userstore

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound is returned when no record carries the identifier.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned by CreateUser for a taken identifier.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidCredentials covers both unknown users and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// PersistError reports a failure to read or write the underlying collection.
// The operation can be retried.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("user store %s failed: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the operation may succeed if attempted again.
func (e *PersistError) Retryable() bool {
	return true
}

// IsRetryable reports whether err wraps a *PersistError.
func IsRetryable(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe) && pe.Retryable()
}
