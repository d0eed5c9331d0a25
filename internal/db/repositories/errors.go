package repositories

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrDuplicateEmail is returned when a user row would violate the unique email index
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrDuplicateReference is returned when a ledger entry with the same reference was already applied
	ErrDuplicateReference = errors.New("ledger reference already applied")
	// ErrInsufficientBalance is returned when a debit would take a balance below zero
	ErrInsufficientBalance = errors.New("insufficient token balance")
	// ErrBalanceOverflow is returned when a credit would exceed the largest representable balance
	ErrBalanceOverflow = errors.New("token balance overflow")
	// ErrUserNotFound is returned by ledger writes for an unknown user id
	ErrUserNotFound = errors.New("user not found")
	// ErrTokenInvalid is returned when a verification token is unknown, expired, or of another purpose
	ErrTokenInvalid = errors.New("verification token invalid or expired")
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// constraintName returns the violated constraint name, or "" for non-Postgres errors
func constraintName(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}
