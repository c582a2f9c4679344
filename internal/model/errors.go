package model

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")

	// Failure classes for the self-correction loop. Backend adapters wrap
	// their errors with one of these so the orchestrator never inspects
	// transport-specific details.
	ErrTransient     = errors.New("transient backend failure")
	ErrAuthorization = errors.New("authorization required")
	ErrCostIncurring = errors.New("cost-incurring operation")
	ErrFatal         = errors.New("fatal backend failure")
)
