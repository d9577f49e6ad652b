package database

import (
	"fmt"

	"github.com/yeremiapane/restaurant-floor/models"
	"github.com/yeremiapane/restaurant-floor/utils"
	"gorm.io/gorm"
)

// Migrate creates the schema and the dialect specific indexes that back the
// lifecycle invariants.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Zone{},
		&models.Staff{},
		&models.Table{},
		&models.TableSession{},
		&models.TableOperation{},
		&models.OperationTable{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	utils.InfoLogger.Println("AutoMigrate completed.")

	for _, stmt := range indexStatements(db.Dialector.Name()) {
		if err := db.Exec(stmt).Error; err != nil {
			utils.ErrorLogger.Printf("Error executing index statement: %v\nStatement: %s", err, stmt)
			return fmt.Errorf("create index: %w", err)
		}
		utils.InfoLogger.Printf("Index statement applied: %s", stmt)
	}
	return nil
}

// indexStatements returns extra DDL per dialect. MySQL has no partial
// indexes, so the one-active-session rule relies on table locks there.
func indexStatements(dialect string) []string {
	switch dialect {
	case "sqlite", "postgres":
		return []string{
			"CREATE UNIQUE INDEX IF NOT EXISTS uniq_active_session_per_table ON table_sessions (table_id) WHERE status = 'active'",
		}
	default:
		return nil
	}
}
