package database

import (
	"fmt"

	"waconsole/state"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func Connect() (*gorm.DB, error) {
	var (
		cfg    = state.State.Config
		dbType = cfg.Database["type"]
		dbURL  = cfg.Database["url"]
	)

	var dialector gorm.Dialector
	switch dbType {
	case "sqlite3", "sqlite":
		dialector = sqlite.Open(dbURL)
	case "postgres":
		dialector = postgres.Open(dbURL)
	case "mysql":
		dialector = mysql.Open(dbURL)
	default:
		return nil, fmt.Errorf("unsupported database type : %s", dbType)
	}

	gormConfig := &gorm.Config{}
	if cfg.SilentDbLogs {
		gormConfig.Logger = gormlogger.Default.LogMode(gormlogger.Silent)
	}

	return gorm.Open(dialector, gormConfig)
}
