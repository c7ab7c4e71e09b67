package service

import (
	"errors"

	"github.com/sifan077/SpeedDial/internal/app/repository"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrNumberExists matches a *ValidationError raised for a number collision.
	ErrNumberExists = errors.New("number already exists")
	// ErrEntryNotFound signals an unknown id or an unassigned number.
	ErrEntryNotFound = repository.ErrEntryNotFound
	ErrNoChanges     = errors.New("no fields to update")
	ErrInvalidNumber = errors.New("invalid number format")
	ErrRateLimited   = errors.New("rate limit exceeded")
	// ErrImportTooLarge is returned before any row is applied.
	ErrImportTooLarge = errors.New("import exceeds the row limit")
)

// ValidationError describes a rejected input field. Message is safe to show to callers.
type ValidationError struct {
	Field    string
	Message  string
	Conflict bool
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return true
	case ErrNumberExists:
		return e.Conflict
	}
	return false
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func conflict(number string) error {
	return &ValidationError{Field: "number", Message: "number " + number + " already exists", Conflict: true}
}
