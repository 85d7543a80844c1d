package executor

import "errors"

// ErrValidation marks a malformed payload — surfaced immediately, no task
// is ever created for it.
var ErrValidation = errors.New("executor: invalid request")
