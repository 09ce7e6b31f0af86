package domain

import "errors"

// Storage level errors shared by every backend.
var (
	ErrNotFound               = errors.New("record not found")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrUniqueViolation        = errors.New("unique constraint violation")
)
