package db

import (
	"github.com/smallbiznis/platformd/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Dialect returns the postgres gorm.Dialector for the configured database URL.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	return postgres.Open(cfg.DatabaseURL), nil
}
