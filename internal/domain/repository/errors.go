package repository

import "errors"

// ErrNotFound is returned when a lookup by ID finds no matching row.
var ErrNotFound = errors.New("repository: not found")

// ErrDuplicateRecord is returned when a (request_id, channel) pair already
// exists.
var ErrDuplicateRecord = errors.New("repository: duplicate record")
