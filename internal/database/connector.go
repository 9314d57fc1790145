// Package database persists accepted sign-ins and the history of connection
// state in Postgres.
package database

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	"moff.io/wallet-sync/internal/config"
	"moff.io/wallet-sync/pkg/errors"
	"moff.io/wallet-sync/pkg/log"
)

const tablePrefix = "wallet_"

// Open connects to Postgres and migrates the tables.
func Open(conf *config.DBCredential) (*gorm.DB, error) {
	db, err := OpenDialector(postgres.Open(conf.Dsn()))
	if err != nil {
		return nil, err
	}
	log.Info("Connected to postgres...")
	return db, nil
}

func OpenDialector(dialector gorm.Dialector) (*gorm.DB, error) {
	cli, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: tablePrefix,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	db, err := cli.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get database conn")
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "ping database")
	}
	if err := cli.AutoMigrate(&SignIn{}, &StateEvent{}); err != nil {
		return nil, errors.Wrap(err, "autoMigrate tables")
	}
	return cli, nil
}

func Close(db *gorm.DB) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warnf("database - close: %v", err)
	}
}
