package payout

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("payout.service",
	fx.Provide(NewService),
	fx.Invoke(migrate, seedDestinations),
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&RevenueAllocation{},
		&PayoutDestination{},
	)
}

// seedDestinations upserts the configured category accounts, encrypting
// account numbers before they touch the database.
func seedDestinations(s *Service) error {
	ctx := context.Background()

	for _, d := range s.seed {
		encrypted, err := s.cipher.Encrypt(d.AccountNumber)
		if err != nil {
			return err
		}

		existing, err := s.destinations.FindOne(ctx, &PayoutDestination{Category: d.Category})
		if err != nil {
			return err
		}

		if existing == nil {
			if err := s.destinations.Create(ctx, &PayoutDestination{
				ID:            s.node.Generate().String(),
				Category:      d.Category,
				Institution:   d.Institution,
				AccountName:   d.AccountName,
				AccountNumber: encrypted,
				BranchCode:    d.BranchCode,
				CreatedAt:     time.Now(),
				UpdatedAt:     time.Now(),
			}); err != nil {
				return err
			}
			zap.L().Info("payout destination registered", zap.String("category", d.Category), zap.String("institution", d.Institution))
			continue
		}

		if err := s.destinations.Update(ctx, existing.ID, map[string]any{
			"institution":    d.Institution,
			"account_name":   d.AccountName,
			"account_number": encrypted,
			"branch_code":    d.BranchCode,
			"updated_at":     time.Now(),
		}); err != nil {
			return err
		}
	}

	return nil
}
