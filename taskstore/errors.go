package taskstore

import "errors"

// ErrNotFound is returned when an operation references an unknown task id.
var ErrNotFound = errors.New("taskstore: task not found")
