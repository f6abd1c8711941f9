// Package mocks provides centralized test doubles for the orchestrator's
// collaborators.
//
// Most doubles use function fields so a test overrides only the calls it
// cares about:
//
//	store := &mocks.MockTaskStore{
//	    GetFn: func(ctx context.Context, id string) (*domain.Task, error) {
//	        return nil, store.ErrTaskNotFound
//	    },
//	}
//
// FakeBatchService is stateful and records every submission, which is what
// the no-double-submission tests assert against.
package mocks
