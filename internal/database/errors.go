package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeNotNullViolation    = "23502"
	codeCheckViolation      = "23514"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
	codeLockNotAvailable    = "55P03"
)

// sqlState extracts the SQLSTATE from whichever driver produced err.
func sqlState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}

	return ""
}

// ConstraintName returns the name of the constraint err violated, or "".
func ConstraintName(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}

	return ""
}

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	switch sqlState(err) {
	case codeSerialization:
		return ErrorClassSerialization
	case codeDeadlock:
		return ErrorClassDeadlock
	case codeLockNotAvailable:
		return ErrorClassTransient
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

func IsUniqueViolation(err error) bool {
	return sqlState(err) == codeUniqueViolation
}

func IsForeignKeyViolation(err error) bool {
	return sqlState(err) == codeForeignKeyViolation
}

// IsLockNotAvailable reports a lock_timeout expiry or a NOWAIT miss.
func IsLockNotAvailable(err error) bool {
	return sqlState(err) == codeLockNotAvailable
}

func IsCheckViolation(err error) bool {
	state := sqlState(err)
	return state == codeCheckViolation || state == codeNotNullViolation
}

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrProductNotFound      = errors.New("product not found")
	ErrBrandNotFound        = errors.New("brand not found")
	ErrCategoryNotFound     = errors.New("category not found")
	ErrCartItemNotFound     = errors.New("cart item not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrSubscriberNotFound   = errors.New("subscriber not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrPriceChanged         = errors.New("product price changed since checkout started")
	ErrOrderNotDeletable    = errors.New("order already shipped or delivered")
	ErrInvalidTransition    = errors.New("invalid order status transition")
	ErrOptimisticLockFailed = errors.New("optimistic lock failed")
	ErrLockTimeout          = errors.New("lock timeout")
)

// ValidationError marks caller input the store refused before or instead of
// touching the database.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
