package models

import (
	"time"

	"gorm.io/datatypes"
)

// LegacyFeatures табличная схема из 16 признаков (первая версия датасета)
type LegacyFeatures struct {
	PreRR       *float64 `gorm:"column:pre_rr" json:"pre_RR,omitempty"`
	PostRR      *float64 `gorm:"column:post_rr" json:"post_RR,omitempty"`
	PPeak       *float64 `json:"p_peak,omitempty"`
	TPeak       *float64 `json:"t_peak,omitempty"`
	RPeak       *float64 `json:"r_peak,omitempty"`
	SPeak       *float64 `json:"s_peak,omitempty"`
	QPeak       *float64 `json:"q_peak,omitempty"`
	QRSInterval *float64 `gorm:"column:qrs_interval" json:"qrs_interval,omitempty"`
	PQInterval  *float64 `gorm:"column:pq_interval" json:"pq_interval,omitempty"`
	QTInterval  *float64 `gorm:"column:qt_interval" json:"qt_interval,omitempty"`
	STInterval  *float64 `gorm:"column:st_interval" json:"st_interval,omitempty"`
	QRSMorph0   *float64 `gorm:"column:qrs_morph0" json:"qrs_morph0,omitempty"`
	QRSMorph1   *float64 `gorm:"column:qrs_morph1" json:"qrs_morph1,omitempty"`
	QRSMorph2   *float64 `gorm:"column:qrs_morph2" json:"qrs_morph2,omitempty"`
	QRSMorph3   *float64 `gorm:"column:qrs_morph3" json:"qrs_morph3,omitempty"`
	QRSMorph4   *float64 `gorm:"column:qrs_morph4" json:"qrs_morph4,omitempty"`
}

type Heartbeat struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PatientID uint      `gorm:"not null;index" json:"patient_id"`
	Timestamp time.Time `gorm:"autoCreateTime;index" json:"timestamp"`

	LegacyFeatures `gorm:"embedded"`

	// ECGFeatures упорядоченный вектор признаков текущей схемы (ширина W)
	ECGFeatures datatypes.JSONSlice[float64] `gorm:"column:ecg_features" json:"ecg_features,omitempty"`

	HeartbeatType        *string  `gorm:"type:varchar(5);index" json:"heartbeat_type"`
	PredictedType        *string  `gorm:"type:varchar(20);index" json:"predicted_type"`
	PredictionConfidence *float64 `json:"prediction_confidence"`
	ModelName            *string  `gorm:"type:varchar(100)" json:"model_name,omitempty"`
}
