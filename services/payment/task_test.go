package payment

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

func TestTriggerReconcileEnqueuesTask(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	task := NewTask(nil, enqueuer)

	info, err := task.TriggerReconcile()
	require.NoError(t, err)
	require.Equal(t, TypeReconcile, info.Type)

	require.Len(t, enqueuer.enqueued, 1)
	require.Equal(t, TypeReconcile, enqueuer.enqueued[0].Type())
}
