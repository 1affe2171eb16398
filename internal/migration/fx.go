package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Module applies schema migrations on startup. Unlike the teacher's
// org/seed bootstrap (billing-specific), this service's only bootstrap
// concern is the first-PlatformAdmin and first-API-key exceptions, which
// live in the command handlers themselves (RegisterUser, GenerateApiKey) —
// they check event-store/read-model state directly rather than seeding rows.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
