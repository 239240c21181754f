package domain

import "errors"

var (
	// ErrValidation marks rejected input: bad axis, missing field, malformed machine reference.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an unknown machine id.
	ErrNotFound = errors.New("not found")
	// ErrStorage marks a persistence failure.
	ErrStorage = errors.New("storage failure")
	// ErrDelivery marks a failed live push.
	ErrDelivery = errors.New("delivery failed")
)
