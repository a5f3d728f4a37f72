package database

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/skycast-app/skycast/internal/domain"
)

// Open connects to the datastore named by url and migrates the schema.
// Postgres is the production target; sqlite URLs (file: or :memory:) are
// accepted for local development and tests.
func Open(url string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(url, "file:"), url == ":memory:":
		dialector = sqlite.Open(url)
	default:
		dialector = postgres.Open(url)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.User{}, &domain.RefreshSession{}); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
