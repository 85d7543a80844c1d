package pool

import "errors"

// ErrPoolShutdown is returned by Execute once Shutdown has been called.
var ErrPoolShutdown = errors.New("pool: shut down")

// ErrQueueOverflow is returned when the backlog is already at MaxQueue.
var ErrQueueOverflow = errors.New("pool: queue full")
