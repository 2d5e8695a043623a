package services

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input, rejected before any lock is taken
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// NotFoundError reports a missing debt, payment, provider or an empty debt set
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ConflictError reports an operation invalid in the record's current state
type ConflictError struct {
	Entity string
	ID     string
	State  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s is %s", e.Entity, e.ID, e.State)
}

// ExternalPaymentError wraps a processor failure
type ExternalPaymentError struct {
	Op        string
	Code      string
	Retryable bool
	Err       error
}

func (e *ExternalPaymentError) Error() string {
	msg := "whish " + e.Op + " failed"
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExternalPaymentError) Unwrap() error { return e.Err }

// PersistenceError wraps a storage failure; the transaction was rolled back
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsConflict reports whether err is a ConflictError
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsExternalPayment reports whether err is an ExternalPaymentError
func IsExternalPayment(err error) bool {
	var target *ExternalPaymentError
	return errors.As(err, &target)
}

// passThrough returns err unchanged when it already belongs to the taxonomy,
// and wraps anything else as a persistence failure.
func passThrough(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsValidation(err) || IsNotFound(err) || IsConflict(err) || IsExternalPayment(err) {
		return err
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
