package core

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a create collides with an existing id.
	ErrDuplicate = errors.New("duplicate: record already exists")
)
