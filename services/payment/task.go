package payment

import (
	"context"

	"revenue-engine/pkg/config"
	"revenue-engine/pkg/task"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const TypeReconcile = "payment:reconcile"

func NewReconcileTask() *asynq.Task {
	return asynq.NewTask(TypeReconcile, nil, asynq.Queue("critical"), asynq.MaxRetry(3))
}

type Task struct {
	service  *Service
	enqueuer task.Enqueuer
}

func NewTask(service *Service, enqueuer task.Enqueuer) *Task {
	return &Task{service: service, enqueuer: enqueuer}
}

func (t *Task) HandleReconcileTask(ctx context.Context, _ *asynq.Task) error {
	return t.service.Reconcile(ctx)
}

// TriggerReconcile enqueues an immediate reconciliation pass outside the
// regular schedule, for operator use after a gateway outage.
func (t *Task) TriggerReconcile() (*asynq.TaskInfo, error) {
	return t.enqueuer.Enqueue(NewReconcileTask())
}

func registerTaskHandler(mux *asynq.ServeMux, task *Task) {
	mux.HandleFunc(TypeReconcile, task.HandleReconcileTask)
}

func registerSchedule(scheduler *asynq.Scheduler, cfg *config.Config) error {
	spec := cfg.Payment.ReconcileSchedule
	if spec == "" {
		spec = "@every 15m"
	}

	entryID, err := scheduler.Register(spec, NewReconcileTask())
	if err != nil {
		return err
	}

	zap.L().Info("payment reconciliation scheduled",
		zap.String("spec", spec),
		zap.String("entry_id", entryID),
	)
	return nil
}

var TaskModule = fx.Module("payment.task",
	fx.Provide(NewTask),
	fx.Invoke(registerTaskHandler, registerSchedule),
)
