package integration

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgercore/jobs"
)

type recordingQueue struct {
	tasks []*asynq.Task
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{}, nil
}

type recordingInbox struct {
	messages map[int64][]string
}

func (i *recordingInbox) Deliver(_ context.Context, companyID int64, message string) error {
	if i.messages == nil {
		i.messages = map[int64][]string{}
	}
	i.messages[companyID] = append(i.messages[companyID], message)
	return nil
}

func TestNotifyQueuesTask(t *testing.T) {
	q := &recordingQueue{}
	inbox := &recordingInbox{}
	n := NewQueueNotifier(q, inbox, nil)

	require.NoError(t, n.Notify(context.Background(), 4, "price up"))
	require.Len(t, q.tasks, 1)
	require.Equal(t, jobs.TaskNotify, q.tasks[0].Type())
	var payload jobs.NotifyPayload
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &payload))
	require.Equal(t, jobs.NotifyPayload{CompanyID: 4, Message: "price up"}, payload)
	require.Empty(t, inbox.messages)
}

func TestNotifyFallsBackToInbox(t *testing.T) {
	inbox := &recordingInbox{}
	n := NewQueueNotifier(&recordingQueue{err: errors.New("redis down")}, inbox, nil)

	require.NoError(t, n.Notify(context.Background(), 4, "price up"))
	require.Equal(t, []string{"price up"}, inbox.messages[4])
}

func TestAuthorityStubAccepts(t *testing.T) {
	status, err := NewAuthorityStub(nil).Validate(context.Background(), "f001", "12", "20100000001", decimal.NewFromInt(118))
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, status)
}
