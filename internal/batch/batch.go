// Package batch defines the contract for the external knowledge-component
// batch service: submitting a job, polling it, re-acquiring it by its
// deterministic job id, and fetching the output rows of a finished job.
package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/phrazzld/kcjob/internal/domain"
)

// Handle is the opaque reference to a submitted job. It round-trips through
// the task's JobHandle column as a plain string.
type Handle string

// String returns the handle as stored on the task.
func (h Handle) String() string { return string(h) }

// JobState is the externally reported lifecycle state of a job.
type JobState string

// Job states.
const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
)

// IsTerminal reports whether the job will not change state again.
func (s JobState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// JobStatus is the result of one Poll.
type JobStatus struct {
	State  JobState
	Reason string
}

// Config is passed through verbatim to the batch service on submission.
type Config map[string]string

var (
	// ErrJobNotFound is returned when a job id or handle is unknown.
	ErrJobNotFound = errors.New("batch job not found")

	// ErrJobExists is returned by Submit when the job id is already taken.
	ErrJobExists = errors.New("batch job already exists")

	// ErrUnavailable marks errors worth retrying: network failures,
	// throttling, and server-side errors.
	ErrUnavailable = errors.New("batch service unavailable")

	// ErrJobNotFinished is returned by Results for a job that has not succeeded.
	ErrJobNotFinished = errors.New("batch job has not succeeded")
)

// Client talks to the batch service. Submit must be called at most once per
// job id; callers use Lookup to re-attach to a job instead of submitting again.
type Client interface {
	Submit(ctx context.Context, records []domain.Record, jobID string, cfg Config) (Handle, error)
	Poll(ctx context.Context, handle Handle) (JobStatus, error)
	Lookup(ctx context.Context, jobID string) (Handle, bool, error)
}

// ResultRow is one output row of a succeeded job: the knowledge-component
// concepts assigned to an input record. RecordID may be empty when the
// service only preserves input order.
type ResultRow struct {
	RecordID string   `json:"record_id"`
	Concepts []string `json:"concepts"`
}

// ResultFetcher downloads the output of a succeeded job.
type ResultFetcher interface {
	Results(ctx context.Context, handle Handle) ([]ResultRow, error)
}

// IsRetryable reports whether err is a transient service failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

const jobIDPrefix = "kc-task-"

// JobIDForTask derives the job id for a task. The mapping is pure, so every
// invocation for the same task computes the same id. Ids that are not
// already lowercase alphanumerics and dashes are sanitized and suffixed
// with a short digest to keep distinct task ids distinct.
func JobIDForTask(taskID string) string {
	var b strings.Builder
	clean := true
	for _, r := range taskID {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
			clean = false
		default:
			b.WriteByte('-')
			clean = false
		}
	}
	if clean && b.Len() > 0 {
		return jobIDPrefix + b.String()
	}
	sum := sha256.Sum256([]byte(taskID))
	return jobIDPrefix + b.String() + "-" + hex.EncodeToString(sum[:4])
}
