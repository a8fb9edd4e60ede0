// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package params

import (
	"gopkg.in/errgo.v1"
)

// ErrorCode holds the class of an error in machine-readable format.
// ErrorCode values are used as errgo causes throughout the service.
type ErrorCode string

// Error implements error.
func (code ErrorCode) Error() string {
	return string(code)
}

// ErrorCode returns the code itself so that an ErrorCode value can be
// used wherever an errorCoder is expected.
func (code ErrorCode) ErrorCode() ErrorCode {
	return code
}

const (
	ErrBadRequest       ErrorCode = "bad request"
	ErrUnauthorized     ErrorCode = "unauthorized"
	ErrForbidden        ErrorCode = "forbidden"
	ErrNotFound         ErrorCode = "not found"
	ErrMethodNotAllowed ErrorCode = "method not allowed"

	// ErrCredential is the cause of errors produced when the
	// credentials presented to a provider are not valid. The user
	// may try again.
	ErrCredential ErrorCode = "invalid credentials"

	// ErrConfiguration is the cause of errors produced by an invalid
	// domain configuration. These are never fixable by the user.
	ErrConfiguration ErrorCode = "configuration error"

	// ErrUnmappedAttribute is a configuration error produced when an
	// attribute kind has no provider key configured and no default.
	ErrUnmappedAttribute ErrorCode = "unmapped attribute"

	// ErrDirectory is the cause of errors produced when a directory
	// operation fails.
	ErrDirectory           ErrorCode = "directory error"
	ErrDirectoryConnection ErrorCode = "directory connection error"
	ErrDirectoryBind       ErrorCode = "directory bind error"

	// ErrProvider is the cause of infrastructure errors reported by
	// non-directory identity providers.
	ErrProvider ErrorCode = "provider error"

	// ErrLinkConflict is the cause of errors produced when an
	// external identity is already linked to a different account.
	ErrLinkConflict ErrorCode = "link conflict"

	// ErrSync is the cause of errors produced when attribute
	// synchronization fails.
	ErrSync ErrorCode = "synchronization error"
)

// Error represents an error returned by the administrative API.
type Error struct {
	Message string    `json:",omitempty"`
	Code    ErrorCode `json:",omitempty"`
}

// Error implements error.Error.
func (e *Error) Error() string {
	return e.Message
}

// ErrorCode holds the class of the error in machine readable format.
func (e *Error) ErrorCode() ErrorCode {
	return e.Code
}

// Cause implements errgo.Causer.Cause so that the code of an error
// returned by the API can be checked with errgo.Cause.
func (e *Error) Cause() error {
	if e.Code != "" {
		return e.Code
	}
	return nil
}

// IsConfigurationError reports whether the cause of err is a
// configuration error of any kind.
func IsConfigurationError(err error) bool {
	switch errgo.Cause(err) {
	case ErrConfiguration, ErrUnmappedAttribute:
		return true
	}
	return false
}

// IsDirectoryError reports whether the cause of err is a directory
// error of any kind.
func IsDirectoryError(err error) bool {
	switch errgo.Cause(err) {
	case ErrDirectory, ErrDirectoryConnection, ErrDirectoryBind:
		return true
	}
	return false
}

// IsInfrastructureError reports whether the cause of err is a fault in
// the external identity source rather than in what the user supplied.
func IsInfrastructureError(err error) bool {
	return IsDirectoryError(err) || errgo.Cause(err) == ErrProvider
}
