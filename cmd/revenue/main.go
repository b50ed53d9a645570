package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"revenue-engine/pkg/config"
	"revenue-engine/pkg/db"
	"revenue-engine/pkg/logger"
	"revenue-engine/pkg/redis"
	"revenue-engine/pkg/secret"
	"revenue-engine/pkg/task"
	"revenue-engine/services/gateway"
	"revenue-engine/services/payment"
	"revenue-engine/services/payout"
	"revenue-engine/services/report"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		secret.Module,
		task.Client,
		task.Server,
		task.Scheduler,
		fx.Provide(provideSnowflakeNode),
		gateway.Module,
		payment.Module,
		payment.TaskModule,
		payout.Module,
		payout.TaskModule,
		report.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
