package storage

import "errors"

// ErrConflict is returned when an execution with the given ID already exists.
var ErrConflict = errors.New("execution already exists")
