// Package db owns the gorm connection and schema migration.
package db

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"grit-backend/internal/config"
	"grit-backend/internal/models"
)

var DB *gorm.DB

// InitDB connects to postgres and migrates the schema.
func InitDB() error {
	if config.AppConfig == nil || config.AppConfig.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}

	var err error
	DB, err = gorm.Open(postgres.Open(config.AppConfig.Database.DSN), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		PrepareStmt:                              true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}
	logrus.Info("database connected")

	if err := DB.AutoMigrate(
		&models.Scar{},
		&models.StakePosition{},
		&models.ParticipantAttribute{},
		&models.WithdrawalLedgerEntry{},
		&models.WithdrawDayCounter{},
		&models.ActorWithdrawState{},
		&models.ProcessedSignature{},
		&models.BridgeDeposit{},
		&models.DeadLetterEvent{},
		&models.CurveStateRecord{},
		&models.TradeRecord{},
	); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	logrus.Info("database schema migrated")
	return nil
}
