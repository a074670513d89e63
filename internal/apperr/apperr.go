// Package apperr holds the error taxonomy shared by the domain packages
// and mapped to HTTP statuses at the API boundary.
package apperr

import (
	"errors"

	"campusdesk/internal/retry"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not_found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation")
	// ErrAlreadyHasActiveCase is returned when an agent tries to take a
	// second case while one is in progress.
	ErrAlreadyHasActiveCase = errors.New("active_case_exists")
	// ErrTransientUnavailable means the store kept failing transiently.
	ErrTransientUnavailable = retry.ErrTransientUnavailable
)
