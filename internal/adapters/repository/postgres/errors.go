package postgres

import (
	"errors"

	"github.com/lib/pq"
)

// Sentinel kinds for the postgres store.
var (
	ErrMissingDSN = errors.New("postgres: database url is required")
)

// SQLSTATE codes the store reacts to.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
)

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

// retryable reports whether err is a transient serialization failure that a
// fresh transaction may avoid.
func retryable(err error) bool {
	switch pqCode(err) {
	case codeSerializationFailure, codeDeadlockDetected:
		return true
	default:
		return false
	}
}
