package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/phrazzld/kcjob/internal/batch"
	"github.com/phrazzld/kcjob/internal/domain"
)

// MockBatchClient implements batch.Client and batch.ResultFetcher with
// function fields. Unset functions report batch.ErrJobNotFound.
type MockBatchClient struct {
	SubmitFn  func(ctx context.Context, records []domain.Record, jobID string, cfg batch.Config) (batch.Handle, error)
	PollFn    func(ctx context.Context, handle batch.Handle) (batch.JobStatus, error)
	LookupFn  func(ctx context.Context, jobID string) (batch.Handle, bool, error)
	ResultsFn func(ctx context.Context, handle batch.Handle) ([]batch.ResultRow, error)
}

var (
	_ batch.Client        = (*MockBatchClient)(nil)
	_ batch.ResultFetcher = (*MockBatchClient)(nil)
)

// Submit implements batch.Client.
func (m *MockBatchClient) Submit(ctx context.Context, records []domain.Record, jobID string, cfg batch.Config) (batch.Handle, error) {
	if m.SubmitFn != nil {
		return m.SubmitFn(ctx, records, jobID, cfg)
	}
	return "", batch.ErrUnavailable
}

// Poll implements batch.Client.
func (m *MockBatchClient) Poll(ctx context.Context, handle batch.Handle) (batch.JobStatus, error) {
	if m.PollFn != nil {
		return m.PollFn(ctx, handle)
	}
	return batch.JobStatus{}, batch.ErrJobNotFound
}

// Lookup implements batch.Client.
func (m *MockBatchClient) Lookup(ctx context.Context, jobID string) (batch.Handle, bool, error) {
	if m.LookupFn != nil {
		return m.LookupFn(ctx, jobID)
	}
	return "", false, nil
}

// Results implements batch.ResultFetcher.
func (m *MockBatchClient) Results(ctx context.Context, handle batch.Handle) ([]batch.ResultRow, error) {
	if m.ResultsFn != nil {
		return m.ResultsFn(ctx, handle)
	}
	return nil, batch.ErrJobNotFound
}

// FakeJob is one job held by FakeBatchService.
type FakeJob struct {
	ID      string
	Handle  batch.Handle
	Records []domain.Record
	Config  batch.Config
	Polls   int
	// States is the sequence reported by successive polls; the last state
	// repeats once the sequence is exhausted.
	States []batch.JobState
	Reason string
	Rows   []batch.ResultRow
}

func (j *FakeJob) state() batch.JobState {
	if len(j.States) == 0 {
		return batch.StateSucceeded
	}
	i := j.Polls - 1
	if i >= len(j.States) {
		i = len(j.States) - 1
	}
	if i < 0 {
		i = 0
	}
	return j.States[i]
}

// FakeBatchService is an in-memory batch service that keeps jobs across
// orchestrator invocations. Submit refuses a job id that already exists, so
// a double submission surfaces both as a SubmitCalls count and an error.
type FakeBatchService struct {
	// States is copied onto every new job.
	States []batch.JobState
	// Reason is reported by jobs that end failed.
	Reason string
	// Concepts produces the output row for each submitted record. By default
	// every record gets the concept "concept-<type>".
	Concepts func(r domain.Record) []string

	// SubmitErrs are returned by successive Submit calls before any job is
	// created. A SubmitErr paired with CreateAnyway creates the job and still
	// returns the error, which models a lost response.
	SubmitErrs   []error
	CreateAnyway bool
	// OnSubmit, when set, runs at the start of every Submit call.
	OnSubmit func()
	// PollErr, when set, is returned by every Poll.
	PollErr error

	mu          sync.Mutex
	jobs        map[batch.Handle]*FakeJob
	byID        map[string]batch.Handle
	submitCalls int
	lookupCalls int
}

var (
	_ batch.Client        = (*FakeBatchService)(nil)
	_ batch.ResultFetcher = (*FakeBatchService)(nil)
)

// NewFakeBatchService returns a service whose jobs report states in order.
func NewFakeBatchService(states ...batch.JobState) *FakeBatchService {
	return &FakeBatchService{
		States: states,
		jobs:   make(map[batch.Handle]*FakeJob),
		byID:   make(map[string]batch.Handle),
	}
}

// Submit implements batch.Client.
func (f *FakeBatchService) Submit(_ context.Context, records []domain.Record, jobID string, cfg batch.Config) (batch.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	if f.OnSubmit != nil {
		f.OnSubmit()
	}

	var err error
	if len(f.SubmitErrs) > 0 {
		err, f.SubmitErrs = f.SubmitErrs[0], f.SubmitErrs[1:]
		if !f.CreateAnyway {
			return "", err
		}
	}
	if _, ok := f.byID[jobID]; ok {
		return "", fmt.Errorf("%w: %s", batch.ErrJobExists, jobID)
	}
	f.add(jobID, records, cfg)
	if err != nil {
		return "", err
	}
	return f.byID[jobID], nil
}

// AddJob registers a job as if it had been submitted earlier.
func (f *FakeBatchService) AddJob(jobID string, records []domain.Record) *FakeJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.add(jobID, records, nil)
}

func (f *FakeBatchService) add(jobID string, records []domain.Record, cfg batch.Config) *FakeJob {
	handle := batch.Handle("jobs/" + jobID)
	job := &FakeJob{
		ID:      jobID,
		Handle:  handle,
		Records: records,
		Config:  cfg,
		States:  append([]batch.JobState(nil), f.States...),
		Reason:  f.Reason,
	}
	for _, r := range records {
		concepts := []string{"concept-" + r.Type}
		if f.Concepts != nil {
			concepts = f.Concepts(r)
		}
		job.Rows = append(job.Rows, batch.ResultRow{RecordID: r.ID, Concepts: concepts})
	}
	f.jobs[handle] = job
	f.byID[jobID] = handle
	return job
}

// Poll implements batch.Client.
func (f *FakeBatchService) Poll(_ context.Context, handle batch.Handle) (batch.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PollErr != nil {
		return batch.JobStatus{}, f.PollErr
	}
	job, ok := f.jobs[handle]
	if !ok {
		return batch.JobStatus{}, fmt.Errorf("%w: %s", batch.ErrJobNotFound, handle)
	}
	job.Polls++
	status := batch.JobStatus{State: job.state()}
	if status.State == batch.StateFailed {
		status.Reason = job.Reason
	}
	return status, nil
}

// Lookup implements batch.Client.
func (f *FakeBatchService) Lookup(_ context.Context, jobID string) (batch.Handle, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupCalls++
	handle, ok := f.byID[jobID]
	return handle, ok, nil
}

// Results implements batch.ResultFetcher.
func (f *FakeBatchService) Results(_ context.Context, handle batch.Handle) ([]batch.ResultRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", batch.ErrJobNotFound, handle)
	}
	if job.state() != batch.StateSucceeded {
		return nil, batch.ErrJobNotFinished
	}
	return append([]batch.ResultRow(nil), job.Rows...), nil
}

// Job returns the job registered under jobID, or nil.
func (f *FakeBatchService) Job(jobID string) *FakeJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[f.byID[jobID]]
}

// SubmitCalls returns how many times Submit was called.
func (f *FakeBatchService) SubmitCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls
}

// LookupCalls returns how many times Lookup was called.
func (f *FakeBatchService) LookupCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookupCalls
}

// JobCount returns how many jobs exist.
func (f *FakeBatchService) JobCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}
