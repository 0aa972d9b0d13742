package scheduler

import "context"

// Job represents a unit of work that can be executed by the worker pool.
type Job interface {
	// Execute runs the job with the given context.
	// Context should be respected for cancellation and timeouts.
	Execute(ctx context.Context) error

	// UserID returns the user ID associated with this job, for logging.
	UserID() string

	// Key identifies equivalent jobs. A job is not queued while another
	// with the same key is queued or running.
	Key() string

	// Description returns a human-readable description of the job.
	Description() string
}
