// internal/database/migrations.go
package database

import (
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/models"
)

// Migrate выполняет миграции базы данных
func Migrate(db *gorm.DB) error {
	slog.Info("Starting database migration")

	all := []interface{}{
		&models.User{},
		&models.Patient{},
		&models.Heartbeat{},
		&models.TrainedModel{},
		&models.ModelPerformance{},
		&models.Prediction{},
	}
	for _, model := range all {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate model %T: %w", model, err)
		}
	}

	createIndexes(db)

	slog.Info("Database migration completed successfully", "models_count", len(all))
	return nil
}

// createIndexes создает дополнительные индексы; ошибки не фатальны
func createIndexes(db *gorm.DB) {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_heartbeats_patient_predicted ON heartbeats(patient_id, predicted_type)",
		"CREATE INDEX IF NOT EXISTS idx_heartbeats_labelled ON heartbeats(id) WHERE heartbeat_type IS NOT NULL",
		"CREATE INDEX IF NOT EXISTS idx_model_performances_timestamp ON model_performances(timestamp DESC)",
	}

	for _, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			slog.Warn("Failed to create index", "sql", indexSQL, "error", err)
		}
	}
}
