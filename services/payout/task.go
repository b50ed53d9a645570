package payout

import (
	"context"

	"revenue-engine/pkg/config"
	"revenue-engine/pkg/task"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const TypeRunCycle = "payout:run_cycle"

func NewRunCycleTask() *asynq.Task {
	return asynq.NewTask(TypeRunCycle, nil, asynq.Queue("critical"), asynq.MaxRetry(0))
}

type Task struct {
	service  *Service
	enqueuer task.Enqueuer
}

func NewTask(service *Service, enqueuer task.Enqueuer) *Task {
	return &Task{service: service, enqueuer: enqueuer}
}

// TriggerCycle enqueues an immediate payout run outside the regular
// schedule. The cycle lock and row locks keep an overlap harmless.
func (t *Task) TriggerCycle() (*asynq.TaskInfo, error) {
	return t.enqueuer.Enqueue(NewRunCycleTask())
}

func (t *Task) HandleRunCycleTask(ctx context.Context, _ *asynq.Task) error {
	result, err := t.service.RunCycle(ctx)
	if err != nil {
		return err
	}

	if !result.BelowThreshold {
		failed := 0
		for _, o := range result.Outcomes {
			if o.Status == PayoutStatusFailed {
				failed++
			}
		}
		zap.L().Info("payout cycle finished",
			zap.String("batch_id", result.BatchID),
			zap.String("total", result.Total.StringFixed(2)),
			zap.Int("failed_transfers", failed),
		)
	}
	return nil
}

func registerTaskHandler(mux *asynq.ServeMux, task *Task) {
	mux.HandleFunc(TypeRunCycle, task.HandleRunCycleTask)
}

func registerSchedule(scheduler *asynq.Scheduler, cfg *config.Config) error {
	spec := cfg.Payout.CycleSchedule
	if spec == "" {
		spec = "@daily"
	}

	entryID, err := scheduler.Register(spec, NewRunCycleTask())
	if err != nil {
		return err
	}

	zap.L().Info("payout cycle scheduled",
		zap.String("spec", spec),
		zap.String("entry_id", entryID),
	)
	return nil
}

var TaskModule = fx.Module("payout.task",
	fx.Provide(NewTask),
	fx.Invoke(registerTaskHandler, registerSchedule),
)
