package util

import (
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// OpenDatabase opens a gorm handle for the configured driver. An empty
// sqlite DSN falls back to an in-memory database, which is what the test
// suites run on.
func OpenDatabase(cfg *gorm.Config, driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "mysql":
		return gorm.Open(mysql.Open(dsn), cfg)
	case "pg":
		return gorm.Open(postgres.Open(dsn), cfg)
	}
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}
	return gorm.Open(sqlite.Open(dsn), cfg)
}
