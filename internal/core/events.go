package core

import (
	"github.com/quill/printhold/internal/db"
)

// Job lifecycle events emitted to webhook subscribers.
const (
	EventJobSubmitted = "job_submitted"
	EventJobClaimed   = "job_claimed"
	EventJobReleased  = "job_released"
	EventJobCanceled  = "job_canceled"
	EventJobExpired   = "job_expired"
	EventJobCompleted = "job_completed"
)

// Notifier receives job lifecycle events. Implementations must not block;
// the webhook sender queues deliveries internally.
type Notifier interface {
	JobEvent(event string, job *db.Job)
}
