package common

import (
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

var (
	ErrUnknownStore = errors.New("unknown store")
	ErrMissingDSN   = errors.New("database url is required")
)

func OpenGorm(store, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w for %s store", ErrMissingDSN, store)
	}

	var dialector gorm.Dialector

	switch store {
	case StorePostgres:
		dialector = postgres.Open(dsn)
	case StoreSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, store)
	}

	//nolint:exhaustruct
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", store, err)
	}

	return db, nil
}
