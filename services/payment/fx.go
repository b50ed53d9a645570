package payment

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("payment.service",
	fx.Provide(NewService),
	fx.Invoke(migrate),
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&PaymentAttempt{},
		&ClientPayment{},
	)
}
