package scheduler

import "errors"

// ErrSweepRunning is returned when a sweep is requested while another is
// still in progress.
var ErrSweepRunning = errors.New("a sweep is already running")

// ErrServerBusy is returned when a revalidation is requested for a server
// that already has a validation attempt in flight.
var ErrServerBusy = errors.New("a validation is already running for this server")
