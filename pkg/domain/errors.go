package domain

import "errors"

var (
	// ErrMissingPayload is returned when a job reaches execution without a
	// payload. It is an illegal local state, never a silent skip.
	ErrMissingPayload = errors.New("job payload is missing")

	// ErrReplication wraps failures to fetch the tracker's current job.
	ErrReplication = errors.New("replication failed")

	// ErrUnhandledMessage is returned for bus messages the node does not
	// understand.
	ErrUnhandledMessage = errors.New("unhandled message")

	// ErrBusy is returned when a pushed job arrives while another job is
	// executing.
	ErrBusy = errors.New("worker is busy")

	// ErrTrackerClosed is returned by trackers that have been shut down.
	ErrTrackerClosed = errors.New("tracker is closed")

	ErrHeartbeatRunning = errors.New("heartbeat already running")
	ErrNotRunning       = errors.New("supervisor is not running")
)
