package dlq

import (
	"time"

	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// Entry is a read view of a dead-lettered job. The job envelope itself
// stays in the job table; the dead-letter set only indexes it.
type Entry struct {
	JobID      id.JobID      `json:"job_id"`
	JobName    string        `json:"job_name"`
	Queue      string        `json:"queue"`
	Priority   job.Priority  `json:"priority"`
	Payload    []byte        `json:"payload"`
	Error      string        `json:"error"`
	ErrorKind  string        `json:"error_kind"`
	Attempts   int           `json:"attempts"`
	MaxRetries int           `json:"max_retries"`
	Failures   []job.Failure `json:"failures,omitempty"`
	FailedAt   time.Time     `json:"failed_at"`
	CreatedAt  time.Time     `json:"created_at"`
}

// FromJob builds the entry for a dead-lettered job.
func FromJob(j *job.Job) *Entry {
	e := &Entry{
		JobID:      j.ID,
		JobName:    j.Name,
		Queue:      j.Queue,
		Priority:   j.Priority,
		Payload:    j.Payload,
		Error:      j.LastError,
		ErrorKind:  j.LastErrorKind,
		Attempts:   j.Attempts,
		MaxRetries: j.MaxRetries,
		Failures:   j.Failures,
		FailedAt:   j.UpdatedAt,
		CreatedAt:  j.CreatedAt,
	}
	if j.CompletedAt != nil {
		e.FailedAt = *j.CompletedAt
	}
	return e
}
