package storage

import "errors"

// ErrNotFound is returned when a requested expert does not exist.
var ErrNotFound = errors.New("storage: not found")
