// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

// Postgres error codes that indicate a transient write conflict.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// IsSQLiteConflictError reports SQLITE_BUSY and "database is locked"
// errors, which occur when another connection holds the write lock.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// IsPostgresConflictError reports serialization failures and deadlocks.
func IsPostgresConflictError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch string(pqErr.Code) {
	case pgSerializationFailure, pgDeadlockDetected:
		return true
	}
	return false
}

// IsRetryableWriteError reports whether a failed write is worth retrying
// on either backend.
func IsRetryableWriteError(err error) bool {
	return IsSQLiteConflictError(err) || IsPostgresConflictError(err)
}
