package cluster

import (
	"time"

	"github.com/xraph/jobq/id"
)

// WorkerState represents the lifecycle state of a worker process.
type WorkerState string

const (
	// WorkerActive means the worker is healthy and claiming jobs.
	WorkerActive WorkerState = "active"
	// WorkerDraining means the worker is finishing in-flight jobs
	// but not claiming new ones (graceful shutdown).
	WorkerDraining WorkerState = "draining"
)

// Worker is the heartbeat record of one worker pool process.
type Worker struct {
	ID          id.WorkerID `json:"id" msgpack:"id"`
	Hostname    string      `json:"hostname" msgpack:"hostname"`
	PID         int         `json:"pid" msgpack:"pid"`
	Queues      []string    `json:"queues" msgpack:"queues"`
	Concurrency int         `json:"concurrency" msgpack:"concurrency"`
	State       WorkerState `json:"state" msgpack:"state"`
	// ActiveJobs lists the jobs the pool's slots hold right now.
	ActiveJobs []id.JobID `json:"active_jobs,omitempty" msgpack:"active_jobs,omitempty"`
	StartedAt  time.Time  `json:"started_at" msgpack:"started_at"`
	LastSeen   time.Time  `json:"last_seen" msgpack:"last_seen"`
}

// Alive reports whether the worker heartbeated within timeout of now.
func (w *Worker) Alive(now time.Time, timeout time.Duration) bool {
	return now.Sub(w.LastSeen) <= timeout
}
