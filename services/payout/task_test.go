package payout

import (
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	enqueued []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.enqueued = append(f.enqueued, t)
	return &asynq.TaskInfo{ID: "1", Type: t.Type()}, nil
}

func TestTriggerCycleEnqueuesTask(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	task := NewTask(nil, enqueuer)

	info, err := task.TriggerCycle()
	require.NoError(t, err)
	require.Equal(t, TypeRunCycle, info.Type)

	require.Len(t, enqueuer.enqueued, 1)
	require.Equal(t, TypeRunCycle, enqueuer.enqueued[0].Type())
}
