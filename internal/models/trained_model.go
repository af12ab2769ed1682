package models

import (
	"time"

	"gorm.io/datatypes"
)

type TrainedModel struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Version     string    `gorm:"type:varchar(10);uniqueIndex;not null" json:"version"`
	FilePath    string    `gorm:"type:varchar(255);not null" json:"file_path"`
	UserID      string    `gorm:"type:varchar(64);not null" json:"user_id"`
	TrainedRows int       `json:"trained_rows"`
	SkippedRows int       `json:"skipped_rows"`
	ValAccuracy *float64  `json:"val_accuracy,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ModelPerformance метрики одного прогона предсказаний с известной разметкой
type ModelPerformance struct {
	ID              uint                        `gorm:"primaryKey" json:"id"`
	ModelName       string                      `gorm:"type:varchar(100);not null;index" json:"model_name"`
	Accuracy        *float64                    `json:"accuracy"`
	ConfusionMatrix datatypes.JSONType[[][]int] `json:"confusion_matrix"`
	Labels          datatypes.JSONSlice[int]    `json:"labels"`
	Samples         int                         `json:"samples"`
	Timestamp       time.Time                   `gorm:"autoCreateTime" json:"timestamp"`
}

type Prediction struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      string    `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Label       string    `gorm:"type:varchar(50);not null" json:"label"`
	ModelUsed   string    `gorm:"type:varchar(100);not null" json:"model_used"`
	HeartbeatID *uint     `json:"heartbeat_id,omitempty"`
	Timestamp   time.Time `gorm:"autoCreateTime" json:"timestamp"`
}
