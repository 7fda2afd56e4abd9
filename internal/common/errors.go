// Package common defines shared constants and sentinel errors used across
// the debtkeeper server, its repositories and the operator CLI. Callers
// should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Client-facing, non-retryable errors.
	ErrorValidation   = errors.New("validation error")
	ErrorUnauthorized = errors.New("unauthorized")

	// ErrorInvalidState means the operation does not fit the current lifecycle
	// state, including a lost compare-and-set race. Refetch and decide again.
	ErrorInvalidState = errors.New("invalid state")

	// ErrorStorage covers encrypt/decrypt and blob I/O failures.
	ErrorStorage = errors.New("storage error")

	// ErrorDependency is returned when an external collaborator (notification
	// sender) fails after the local work has already been committed.
	ErrorDependency = errors.New("dependency error")

	ErrorInternal = errors.New("internal error")

	// Auth errors (invalid, malformed or expired token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
