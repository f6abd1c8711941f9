package task_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/kcjob/internal/batch"
	"github.com/phrazzld/kcjob/internal/blob"
	"github.com/phrazzld/kcjob/internal/cluster"
	"github.com/phrazzld/kcjob/internal/convert"
	"github.com/phrazzld/kcjob/internal/domain"
	"github.com/phrazzld/kcjob/internal/mocks"
	"github.com/phrazzld/kcjob/internal/notify"
	"github.com/phrazzld/kcjob/internal/platform/logger"
	"github.com/phrazzld/kcjob/internal/platform/memory"
	"github.com/phrazzld/kcjob/internal/store"
	"github.com/phrazzld/kcjob/internal/task"
)

const twoSingleChoice = `{"id": "q1", "type": "Single Choice", "question": {"stem": "Which organelle makes ATP?", "choices": [{"label": "a", "text": "Mitochondria"}, {"label": "b", "text": "Ribosome"}]}}
{"id": "q2", "type": "Single Choice", "question": {"stem": "What is 3 x 4?", "choices": [{"label": "a", "text": "12"}, {"label": "b", "text": "7"}]}}
`

var testConfig = task.Config{
	PollInterval:   time.Minute,
	MaxWait:        time.Hour,
	RetryAttempts:  3,
	RetryBaseDelay: time.Millisecond,
	MaxPollErrors:  3,
	SiteURL:        "https://kc.example.edu",
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps int
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps++
	return nil
}

type harness struct {
	store    *memory.TaskStore
	blobs    *blob.MemoryStore
	batch    *mocks.FakeBatchService
	notifier *mocks.RecordingNotifier
	clock    *fakeClock
	cfg      task.Config
}

func newHarness(t *testing.T, states ...batch.JobState) *harness {
	t.Helper()
	fake := mocks.NewFakeBatchService(states...)
	fake.Concepts = func(r domain.Record) []string {
		if r.ID == "q1" {
			return []string{"Cell Biology", "energy"}
		}
		return []string{"multiplication", "Energy"}
	}
	return &harness{
		store:    memory.NewTaskStore(),
		blobs:    blob.NewMemoryStore(),
		batch:    fake,
		notifier: &mocks.RecordingNotifier{},
		clock:    newFakeClock(),
		cfg:      testConfig,
	}
}

// orchestrator builds an Orchestrator over the harness collaborators. A
// non-nil taskStore replaces the harness store.
func (h *harness) orchestrator(t *testing.T, taskStore store.TaskStore) *task.Orchestrator {
	t.Helper()
	if taskStore == nil {
		taskStore = h.store
	}
	conv, err := convert.New()
	require.NoError(t, err)

	o, err := task.New(task.Deps{
		Store:     taskStore,
		Blobs:     h.blobs,
		Converter: conv,
		Batch:     h.batch,
		Collector: cluster.NewCollector(h.batch),
		Notifier:  h.notifier,
	}, h.cfg, task.WithClock(h.clock.Now), task.WithSleeper(h.clock.Sleep))
	require.NoError(t, err)
	return o
}

// seed stores an input file and creates a task pointing at it.
func (h *harness) seed(t *testing.T, id, filename, content string) *domain.Task {
	t.Helper()
	key, err := h.blobs.Put(context.Background(), "uploads/"+filename, []byte(content))
	require.NoError(t, err)
	tk, err := domain.NewTask(id, "ada@example.edu", filename, key)
	require.NoError(t, err)
	require.NoError(t, h.store.Create(context.Background(), tk))
	return tk
}

func (h *harness) get(t *testing.T, id string) *domain.Task {
	t.Helper()
	tk, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return tk
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := task.New(task.Deps{}, testConfig)
	assert.ErrorContains(t, err, "task store is required")

	_, err = task.New(task.Deps{Store: memory.NewTaskStore(), Blobs: blob.NewMemoryStore()}, testConfig)
	assert.ErrorContains(t, err, "converter is required")
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t, batch.StatePending, batch.StateRunning, batch.StateRunning, batch.StateSucceeded)
	h.seed(t, "T1", "unit1.jsonl", twoSingleChoice)
	ctx, logs := logger.NewTestContext(t)

	outcome, err := h.orchestrator(t, nil).Run(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, task.OutcomeCompleted, outcome)

	got := h.get(t, "T1")
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, h.clock.Now(), *got.CompletedAt)
	assert.Equal(t, 2, got.RecordCount)
	assert.Equal(t, blob.ProcessedKey("T1"), got.NormalizedBlob)
	assert.Equal(t, blob.ConceptsKey("T1"), got.ConceptResultBlob)
	assert.Equal(t, blob.ClustersKey("T1"), got.ClusterResultBlob)
	assert.Equal(t, jobHandle("T1"), got.JobHandle)
	assert.Empty(t, got.ErrorMessage)

	assert.Equal(t, 1, h.batch.SubmitCalls())
	job := h.batch.Job(batch.JobIDForTask("T1"))
	require.NotNil(t, job)
	assert.Equal(t, 4, job.Polls)
	assert.Equal(t, 3, h.clock.sleeps)
	require.Len(t, job.Records, 2)
	assert.Equal(t, "q1", job.Records[0].ID)
	assert.Equal(t, "q2", job.Records[1].ID)

	normalized, err := h.blobs.Get(context.Background(), got.NormalizedBlob)
	require.NoError(t, err)
	records, err := convert.DecodeJSONL(normalized)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	concepts, err := h.blobs.Get(context.Background(), got.ConceptResultBlob)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(concepts), "record_id,type,stem,concept\n"))
	assert.Contains(t, string(concepts), "q1,Single Choice,Which organelle makes ATP?,Cell Biology")

	clusters, err := h.blobs.Get(context.Background(), got.ClusterResultBlob)
	require.NoError(t, err)
	assert.Contains(t, string(clusters), "2,energy,2,q1;q2")

	sent := h.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, notify.EventTaskCompleted, sent[0].Event)
	assert.Equal(t, "ada@example.edu", sent[0].Recipient)
	assert.Equal(t, "https://kc.example.edu/task/T1/", sent[0].Summary.ResultsURL)

	logger.AssertLogContains(t, logs, `"task_id":"T1"`)
	logger.AssertLogContains(t, logs, `"invocation_id"`)
}

func TestRunTerminalReentryIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, batch.StateSucceeded)
	h.seed(t, "T1", "unit1.jsonl", twoSingleChoice)
	ctx := context.Background()

	outcome, err := h.orchestrator(t, nil).Run(ctx, "T1")
	require.NoError(t, err)
	require.Equal(t, task.OutcomeCompleted, outcome)
	before := h.get(t, "T1")

	for i := 0; i < 3; i++ {
		outcome, err = h.orchestrator(t, nil).Run(ctx, "T1")
		require.NoError(t, err)
		assert.Equal(t, task.OutcomeNoop, outcome)
	}

	assert.Equal(t, before, h.get(t, "T1"))
	assert.Equal(t, 1, h.batch.SubmitCalls())
	assert.Len(t, h.notifier.Sent(), 1)

	_, err = h.store.Update(ctx, "T1", func(tk *domain.Task) error {
		tk.Status = domain.TaskStatusFailed
		tk.ErrorMessage = "forced by operator"
		return nil
	})
	require.NoError(t, err)
	outcome, err = h.orchestrator(t, nil).Run(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, task.OutcomeNoop, outcome)
	assert.Equal(t, domain.TaskStatusFailed, h.get(t, "T1").Status)
	assert.Len(t, h.notifier.Sent(), 1)
}

func TestRunTaskNotFound(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	outcome, err := h.orchestrator(t, nil).Run(context.Background(), "missing")
	assert.Equal(t, task.OutcomeNoop, outcome)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.Empty(t, h.notifier.Sent())
}

func TestRunValidationRejection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		file    string
		content string
		message string
	}{
		{
			name:    "missing type",
			content: `{"id": "q1", "question": {"stem": "Why?"}}`,
			message: "Record 1: 'type' field is required and cannot be empty",
		},
		{
			name: "multiple choice with one choice",
			content: `{"id": "q1", "type": "Short Answer", "question": {"stem": "Why?"}}
{"id": "q2", "type": "Multiple Choice", "question": {"stem": "Pick", "choices": [{"label": "a", "text": "only"}]}}`,
			message: "Record 2: 'choices' for Multiple Choice questions must have more than one option",
		},
		{
			name:    "csv multiple choice with one populated choice",
			file:    "quiz.csv",
			content: "id,type,question,choice_a,choice_b\nq1,Multiple Choice,Pick one,Only option,\n",
			message: "Record 1: 'choices' for Multiple Choice questions must have more than one option",
		},
		{
			name:    "empty file",
			content: "\n\n",
			message: "file is empty or contains no valid data",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			file := tt.file
			if file == "" {
				file = "quiz.jsonl"
			}
			h := newHarness(t)
			h.seed(t, "V1", file, tt.content)

			outcome, err := h.orchestrator(t, nil).Run(context.Background(), "V1")
			require.NoError(t, err)
			assert.Equal(t, task.OutcomeFailed, outcome)

			got := h.get(t, "V1")
			assert.Equal(t, domain.TaskStatusFailed, got.Status)
			assert.Equal(t, tt.message, got.ErrorMessage)
			assert.Empty(t, got.JobHandle)
			assert.Empty(t, got.NormalizedBlob)
			assert.Zero(t, h.batch.SubmitCalls())

			sent := h.notifier.Sent()
			require.Len(t, sent, 1)
			assert.Equal(t, notify.EventTaskFailed, sent[0].Event)
			assert.Equal(t, tt.message, sent[0].Summary.Error)
		})
	}
}

func TestRunInputProblems(t *testing.T) {
	t.Parallel()

	t.Run("input file missing", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		tk, err := domain.NewTask("M1", "ada@example.edu", "gone.csv", "uploads/gone.csv")
		require.NoError(t, err)
		require.NoError(t, h.store.Create(context.Background(), tk))

		outcome, err := h.orchestrator(t, nil).Run(context.Background(), "M1")
		require.NoError(t, err)
		assert.Equal(t, task.OutcomeFailed, outcome)
		assert.Equal(t, "input file not found: uploads/gone.csv", h.get(t, "M1").ErrorMessage)
	})

	t.Run("unsupported format", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.seed(t, "M2", "notes.txt", "hello")

		outcome, err := h.orchestrator(t, nil).Run(context.Background(), "M2")
		require.NoError(t, err)
		assert.Equal(t, task.OutcomeFailed, outcome)
		assert.Equal(t, "Unsupported file format: txt", h.get(t, "M2").ErrorMessage)
	})

	t.Run("stored key without extension uses filename", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, batch.StateSucceeded)
		key, err := h.blobs.Put(context.Background(), "uploads/abc123", []byte("id,type,question\nq1,Short Answer,Define osmosis.\n"))
		require.NoError(t, err)
		tk, err := domain.NewTask("M3", "ada@example.edu", "unit.csv", key)
		require.NoError(t, err)
		require.NoError(t, h.store.Create(context.Background(), tk))

		outcome, err := h.orchestrator(t, nil).Run(context.Background(), "M3")
		require.NoError(t, err)
		assert.Equal(t, task.OutcomeCompleted, outcome)
		assert.Equal(t, 1, h.get(t, "M3").RecordCount)
	})
}

var errCrashed = errors.New("process killed")

// crashingStore lets the first n updates through, then behaves like a dead
// process: the context is cancelled and every later write is lost.
func crashingStore(next store.TaskStore, n int, cancel context.CancelFunc) *mocks.MockTaskStore {
	var mu sync.Mutex
	writes, dead := 0, false
	return &mocks.MockTaskStore{
		Next: next,
		UpdateFn: func(ctx context.Context, id string, mutate store.Mutator) (*domain.Task, error) {
			mu.Lock()
			defer mu.Unlock()
			if dead {
				return nil, errCrashed
			}
			tk, err := next.Update(ctx, id, mutate)
			if err != nil {
				return nil, err
			}
			writes++
			if writes == n {
				dead = true
				cancel()
			}
			return tk, nil
		},
	}
}

func TestRunCrashAfterEveryCheckpoint(t *testing.T) {
	t.Parallel()

	// uploaded, converted, normalized blob, queued, processing, job handle,
	// result blobs, completed
	const checkpoints = 8

	for n := 1; n < checkpoints; n++ {
		n := n
		t.Run(fmt.Sprintf("after checkpoint %d", n), func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, batch.StateRunning, batch.StateSucceeded)
			h.seed(t, "T1", "unit1.jsonl", twoSingleChoice)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			first, err := h.orchestrator(t, crashingStore(h.store, n, cancel)).Run(ctx, "T1")
			require.NoError(t, err)
			assert.Equal(t, task.OutcomeInterrupted, first)
			assert.False(t, h.get(t, "T1").Status.IsTerminal())
			assert.Empty(t, h.notifier.Sent())

			outcome, err := h.orchestrator(t, nil).Run(context.Background(), "T1")
			require.NoError(t, err)
			assert.Equal(t, task.OutcomeCompleted, outcome)

			got := h.get(t, "T1")
			assert.Equal(t, domain.TaskStatusCompleted, got.Status)
			assert.Equal(t, jobHandle("T1"), got.JobHandle)
			assert.Equal(t, 1, h.batch.SubmitCalls(), "batch job must be submitted exactly once")
			assert.Equal(t, 1, h.batch.JobCount())
			assert.Equal(t, 1, h.notifier.Count(notify.EventTaskCompleted))
		})
	}
}

func TestRunSkipsConversionWhenNormalizedStored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, batch.StateSucceeded)
	h.seed(t, "T1", "unit1.jsonl", twoSingleChoice)
	ctx := context.Background()

	conv, err := convert.New()
	require.NoError(t, err)
	records, err := conv.Convert([]byte(twoSingleChoice), "unit1.jsonl")
	require.NoError(t, err)
	data, err := convert.EncodeJSONL(records)
	require.NoError(t, err)
	key, err := h.blobs.Put(ctx, blob.ProcessedKey("T1"), data)
	require.NoError(t, err)
	_, err = h.store.Update(ctx, "T1", func(tk *domain.Task) error {
		tk.Status = domain.TaskStatusQueued
		tk.NormalizedBlob = key
		tk.RecordCount = 2
		return nil
	})
	require.NoError(t, err)

	// The input file is gone; only the normalized records can be used.
	blobs := &mocks.TestifyMockBlobStore{}
	blobs.On("Get", mock.Anything, key).Return(data, nil)
	blobs.On("Put", mock.Anything, blob.ConceptsKey("T1"), mock.Anything).Return(blob.ConceptsKey("T1"), nil)
	blobs.On("Put", mock.Anything, blob.ClustersKey("T1"), mock.Anything).Return(blob.ClustersKey("T1"), nil)

	conv2, err := convert.New()
	require.NoError(t, err)
	o, err := task.New(task.Deps{
		Store:     h.store,
		Blobs:     blobs,
		Converter: conv2,
		Batch:     h.batch,
		Collector: cluster.NewCollector(h.batch),
		Notifier:  h.notifier,
	}, h.cfg, task.WithClock(h.clock.Now), task.WithSleeper(h.clock.Sleep))
	require.NoError(t, err)

	outcome, err := o.Run(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, task.OutcomeCompleted, outcome)
	blobs.AssertExpectations(t)
	blobs.AssertNotCalled(t, "Get", mock.Anything, h.get(t, "T1").InputBlob)
}

func TestResumeExternallySucceededJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, batch.StateSucceeded)
	h.seed(t, "R1", "unit1.jsonl", twoSingleChoice)
	ctx := context.Background()

	conv, err := convert.New()
	require.NoError(t, err)
	records, err := conv.Convert([]byte(twoSingleChoice), "unit1.jsonl")
	require.NoError(t, err)
	data, err := convert.EncodeJSONL(records)
	require.NoError(t, err)
	key, err := h.blobs.Put(ctx, blob.ProcessedKey("R1"), data)
	require.NoError(t, err)

	job := h.batch.AddJob(batch.JobIDForTask("R1"), records)
	_, err = h.store.Update(ctx, "R1", func(tk *domain.Task) error {
		tk.Status = domain.TaskStatusProcessing
		tk.NormalizedBlob = key
		tk.JobHandle = job.Handle.String()
		return nil
	})
	require.NoError(t, err)

	outcome, err := h.orchestrator(t, nil).Run(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, task.OutcomeCompleted, outcome)
	assert.Zero(t, h.batch.SubmitCalls())
	assert.Zero(t, h.clock.sleeps)

	got := h.get(t, "R1")
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Equal(t, job.Handle.String(), got.JobHandle)
	assert.NotEmpty(t, got.ConceptResultBlob)
	assert.NotEmpty(t, got.ClusterResultBlob)
	assert.Equal(t, 1, h.notifier.Count(notify.EventTaskCompleted))
}

func TestResumeExternallyFailedJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, batch.StateFailed)
	h.batch.Reason = "quota exceeded"
	h.seed(t, "R2", "unit1.jsonl", twoSingleChoice)
	ctx := context.Background()

	job := h.batch.AddJob(batch.JobIDForTask("R2"), nil)
	_, err := h.store.Update(ctx, "R2", func(tk *domain.Task) error {
		tk.Status = domain.TaskStatusProcessing
		tk.JobHandle = job.Handle.String()
		return nil
	})
	require.NoError(t, err)

	outcome, err := h.orchestrator(t, nil).Run(ctx, "R2")
	require.NoError(t, err)
	assert.Equal(t, task.OutcomeFailed, outcome)

	got := h.get(t, "R2")
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, "batch job "+jobHandle("R2")+" failed: quota exceeded", got.ErrorMessage)
	assert.Equal(t, job.Handle.String(), got.JobHandle, "failure keeps the job handle")
	assert.Equal(t, 1, h.notifier.Count(notify.EventTaskFailed))
}

func TestResumeUnresolvableHandleStalls(t *testing.T) {
	t.Parallel()

	h := newHarness(t, batch.StateSucceeded)
	h.seed(t, "R3", "unit1.jsonl", twoSingleChoice)
	ctx, logs := logger.NewTestContext(t)

	_, err := h.store.Update(ctx, "R3", func(tk *domain.Task) error {
		tk.Status = domain.TaskStatusProcessing
		tk.NormalizedBlob = blob.ProcessedKey("R3")
		tk.JobHandle = "jobs/expired"
		return nil
	})
	require.NoError(t, err)
	before := h.get(t, "R3")

	for i := 0; i < 2; i++ {
		outcome, err := h.orchestrator(t, nil).Run(ctx, "R3")
		require.NoError(t, err)
		assert.Equal(t, task.OutcomeStalled, outcome)
	}

	assert.Equal(t, before, h.get(t, "R3"))
	assert.Zero(t, h.batch.SubmitCalls())
	assert.Empty(t, h.notifier.Sent())
	logger.AssertLogContains(t, logs, "leaving task in processing")
}

func TestResumeWithoutHandleAdoptsExistingJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, batch.StateRunning, batch.StateSucceeded)
	h.seed(t, "R4", "unit1.jsonl", twoSingleChoice)
	ctx := context.Background()

	conv, err := convert.New()
	require.NoError(t, err)
	records, err := conv.Convert([]byte(twoSingleChoice), "unit1.jsonl")
	require.NoError(t, err)
	data, err := convert.EncodeJSONL(records)
	require.NoError(t, err)
	key, err := h.blobs.Put(ctx, blob.ProcessedKey("R4"), data)
	require.NoError(t, err)

	// Submitted, but the process died before the handle was written.
	job := h.batch.AddJob(batch.JobIDForTask("R4"), records)
	_, err = h.store.Update(ctx, "R4", func(tk *domain.Task) error {
		tk.Status = domain.TaskStatusProcessing
		tk.NormalizedBlob = key
		return nil
	})
	require.NoError(t, err)

	outcome, err := h.orchestrator(t, nil).Run(ctx, "R4")
	require.NoError(t, err)
	assert.Equal(t, task.OutcomeCompleted, outcome)
	assert.Zero(t, h.batch.SubmitCalls())
	assert.Equal(t, job.Handle.String(), h.get(t, "R4").JobHandle)
}

func TestResumeWithoutHandleOrRecordsStalls(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seed(t, "R5", "unit1.jsonl", twoSingleChoice)
	_, err := h.store.Update(context.Background(), "R5", func(tk *domain.Task) error {
		tk.Status = domain.TaskStatusProcessing
		return nil
	})
	require.NoError(t, err)

	outcome, err := h.orchestrator(t, nil).Run(context.Background(), "R5")
	require.NoError(t, err)
	assert.Equal(t, task.OutcomeStalled, outcome)
	assert.Equal(t, domain.TaskStatusProcessing, h.get(t, "R5").Status)
	assert.Zero(t, h.batch.SubmitCalls())
}

func TestPollTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, batch.StateRunning)
	h.cfg.PollInterval = 10 * time.Minute
	h.cfg.MaxWait = time.Hour
	h.seed(t, "P1", "unit1.jsonl", twoSingleChoice)

	outcome, err := h.orchestrator(t, nil).Run(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, task.OutcomeFailed, outcome)

	got := h.get(t, "P1")
	assert.Equal(t, "batch job "+jobHandle("P1")+" did not finish within 1h0m0s", got.ErrorMessage)
	assert.Equal(t, jobHandle("P1"), got.JobHandle)
	assert.Equal(t, 6, h.batch.Job(batch.JobIDForTask("P1")).Polls)
	assert.Equal(t, 1, h.notifier.Count(notify.EventTaskFailed))
}

func TestPollErrorBudget(t *testing.T) {
	t.Parallel()

	h := newHarness(t, batch.StateRunning)
	h.seed(t, "P2", "unit1.jsonl", twoSingleChoice)
	outcome, err := h.orchestrator(t, nil).Run(context.Background(), "P2")
	require.NoError(t, err)
	require.Equal(t, task.OutcomeFailed, outcome, "first run times out")

	// Reopen and resume against a service that keeps erroring.
	_, err = h.store.Update(context.Background(), "P2", func(tk *domain.Task) error { return tk.Reopen() })
	require.NoError(t, err)
	h.batch.PollErr = fmt.Errorf("%w: 503", batch.ErrUnavailable)

	outcome, err = h.orchestrator(t, nil).Run(context.Background(), "P2")
	require.NoError(t, err)
	assert.Equal(t, task.OutcomeFailed, outcome)
	assert.Contains(t, h.get(t, "P2").ErrorMessage, "failed 3 times in a row")
	assert.Equal(t, 1, h.batch.SubmitCalls())
}

func TestWaitInterruptedByCancellation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, batch.StateRunning)
	h.seed(t, "P3", "unit1.jsonl", twoSingleChoice)

	ctx, cancel := context.WithCancel(context.Background())
	o, err := task.New(task.Deps{
		Store:     h.store,
		Blobs:     h.blobs,
		Converter: mustConverter(t),
		Batch:     h.batch,
		Collector: cluster.NewCollector(h.batch),
		Notifier:  h.notifier,
	}, h.cfg, task.WithClock(h.clock.Now), task.WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	require.NoError(t, err)

	outcome, err := o.Run(ctx, "P3")
	require.NoError(t, err)
	assert.Equal(t, task.OutcomeInterrupted, outcome)

	got := h.get(t, "P3")
	assert.Equal(t, domain.TaskStatusProcessing, got.Status)
	assert.Equal(t, jobHandle("P3"), got.JobHandle)
	assert.Empty(t, h.notifier.Sent())
}

func TestSubmitRetryAdoptsJobCreatedByLostResponse(t *testing.T) {
	t.Parallel()

	h := newHarness(t, batch.StateSucceeded)
	h.batch.SubmitErrs = []error{fmt.Errorf("%w: connection reset", batch.ErrUnavailable)}
	h.batch.CreateAnyway = true
	h.seed(t, "S1", "unit1.jsonl", twoSingleChoice)

	outcome, err := h.orchestrator(t, nil).Run(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, task.OutcomeCompleted, outcome)
	assert.Equal(t, 1, h.batch.SubmitCalls())
	assert.Equal(t, 1, h.batch.JobCount())
	assert.Equal(t, 1, h.batch.LookupCalls())
}

func TestSubmitRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, batch.StateSucceeded)
	unavailable := fmt.Errorf("%w: 502", batch.ErrUnavailable)
	h.batch.SubmitErrs = []error{unavailable, unavailable}
	h.seed(t, "S2", "unit1.jsonl", twoSingleChoice)

	outcome, err := h.orchestrator(t, nil).Run(context.Background(), "S2")
	require.NoError(t, err)
	assert.Equal(t, task.OutcomeCompleted, outcome)
	assert.Equal(t, 3, h.batch.SubmitCalls())
	assert.Equal(t, 1, h.batch.JobCount())
}

func TestSubmitFailureExhaustsRetries(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	unavailable := fmt.Errorf("%w: 503", batch.ErrUnavailable)
	h.batch.SubmitErrs = []error{unavailable, unavailable, unavailable}
	h.seed(t, "S3", "unit1.jsonl", twoSingleChoice)

	outcome, err := h.orchestrator(t, nil).Run(context.Background(), "S3")
	require.NoError(t, err)
	assert.Equal(t, task.OutcomeFailed, outcome)

	got := h.get(t, "S3")
	assert.Contains(t, got.ErrorMessage, "submit batch job")
	assert.Empty(t, got.JobHandle)
	assert.Equal(t, blob.ProcessedKey("S3"), got.NormalizedBlob)
	assert.Equal(t, 3, h.batch.SubmitCalls())
}

func TestSubmitCancelledDuringRetryIsInterrupted(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.batch.SubmitErrs = []error{fmt.Errorf("%w: 503", batch.ErrUnavailable)}
	h.batch.OnSubmit = cancel
	h.seed(t, "S5", "unit1.jsonl", twoSingleChoice)

	outcome, err := h.orchestrator(t, nil).Run(ctx, "S5")
	require.NoError(t, err)
	assert.Equal(t, task.OutcomeInterrupted, outcome)

	got := h.get(t, "S5")
	assert.Equal(t, domain.TaskStatusProcessing, got.Status)
	assert.Empty(t, got.JobHandle)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, 1, h.batch.SubmitCalls())
	assert.Empty(t, h.notifier.Sent())
}

func TestSubmitNonRetryableErrorFailsImmediately(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.batch.SubmitErrs = []error{errors.New("400 bad request: config rejected")}
	h.seed(t, "S4", "unit1.jsonl", twoSingleChoice)

	outcome, err := h.orchestrator(t, nil).Run(context.Background(), "S4")
	require.NoError(t, err)
	assert.Equal(t, task.OutcomeFailed, outcome)
	assert.Equal(t, 1, h.batch.SubmitCalls())
	assert.Contains(t, h.get(t, "S4").ErrorMessage, "config rejected")
}

func TestNotifierErrorsAreSwallowed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, batch.StateSucceeded)
	h.notifier.Err = errors.New("smtp unreachable")
	h.seed(t, "N1", "unit1.jsonl", twoSingleChoice)
	ctx, logs := logger.NewTestContext(t)

	outcome, err := h.orchestrator(t, nil).Run(ctx, "N1")
	require.NoError(t, err)
	assert.Equal(t, task.OutcomeCompleted, outcome)
	assert.Equal(t, domain.TaskStatusCompleted, h.get(t, "N1").Status)
	logger.AssertLogContains(t, logs, "notification failed")
}

func TestFailurePersistErrorIsReturned(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seed(t, "F1", "quiz.jsonl", `{"id": "q1", "question": {"stem": "Why?"}}`)

	writeErr := errors.New("disk full")
	failing := &mocks.MockTaskStore{
		Next: h.store,
		UpdateFn: func(ctx context.Context, id string, mutate store.Mutator) (*domain.Task, error) {
			probe := h.get(t, id)
			if err := mutate(probe); err == nil && probe.Status == domain.TaskStatusFailed {
				return nil, writeErr
			}
			return h.store.Update(ctx, id, mutate)
		},
	}

	outcome, err := h.orchestrator(t, failing).Run(context.Background(), "F1")
	assert.Equal(t, task.OutcomeFailed, outcome)
	assert.ErrorIs(t, err, writeErr)
	assert.Equal(t, domain.TaskStatusUploaded, h.get(t, "F1").Status)
	assert.Empty(t, h.notifier.Sent())
}

func TestOperatorOverrideDuringRunIsRespected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, batch.StateRunning, batch.StateFailed)
	h.seed(t, "O1", "unit1.jsonl", twoSingleChoice)

	o, err := task.New(task.Deps{
		Store:     h.store,
		Blobs:     h.blobs,
		Converter: mustConverter(t),
		Batch:     h.batch,
		Collector: cluster.NewCollector(h.batch),
		Notifier:  h.notifier,
	}, h.cfg, task.WithClock(h.clock.Now), task.WithSleeper(func(ctx context.Context, d time.Duration) error {
		_, err := h.store.Update(ctx, "O1", func(tk *domain.Task) error { return tk.Fail("cancelled by operator") })
		return err
	}))
	require.NoError(t, err)

	outcome, err := o.Run(context.Background(), "O1")
	require.NoError(t, err)
	assert.Equal(t, task.OutcomeNoop, outcome)
	assert.Equal(t, "cancelled by operator", h.get(t, "O1").ErrorMessage)
	assert.Empty(t, h.notifier.Sent())
}

// jobHandle is the handle FakeBatchService assigns to a task's job.
func jobHandle(taskID string) string {
	return "jobs/" + batch.JobIDForTask(taskID)
}

func mustConverter(t *testing.T) *convert.Converter {
	t.Helper()
	c, err := convert.New()
	require.NoError(t, err)
	return c
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "completed", task.OutcomeCompleted.String())
	assert.Equal(t, "stalled", task.OutcomeStalled.String())
	assert.Equal(t, "outcome(42)", task.Outcome(42).String())
}
