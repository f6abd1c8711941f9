package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/kcjob/internal/domain"
	"github.com/phrazzld/kcjob/internal/notify"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return nil
}

func TestNotifierSubjects(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	n := New(pub, "kcjob.task.")
	ctx := context.Background()

	require.NoError(t, n.NotifyCompleted(ctx, "ada@example.edu", notify.Summary{TaskID: "1", Status: domain.TaskStatusCompleted}))
	require.NoError(t, n.NotifyFailed(ctx, "ada@example.edu", notify.Summary{TaskID: "2", Status: domain.TaskStatusFailed, Error: "bad"}))

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "kcjob.task.completed", pub.msgs[0].subject)
	assert.Equal(t, "kcjob.task.failed", pub.msgs[1].subject)

	var ev notify.Event
	require.NoError(t, json.Unmarshal(pub.msgs[1].data, &ev))
	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.Equal(t, notify.EventTaskFailed, ev.Type)
	assert.Equal(t, "ada@example.edu", ev.Recipient)
	assert.Equal(t, "2", ev.Summary.TaskID)
	assert.Equal(t, "bad", ev.Summary.Error)
}

func TestNotifierPublishError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection closed")
	n := New(&fakePublisher{err: boom}, "kc")

	err := n.NotifyCompleted(context.Background(), "r", notify.Summary{TaskID: "1"})
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "kc.completed")
}
