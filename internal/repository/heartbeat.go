package repository

import (
	"context"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/models"
	"gorm.io/gorm"
)

type HeartbeatRepository struct {
	db *gorm.DB
}

func NewHeartbeatRepository(db *gorm.DB) *HeartbeatRepository {
	return &HeartbeatRepository{db: db}
}

func (r *HeartbeatRepository) WithTx(tx *gorm.DB) *HeartbeatRepository {
	return &HeartbeatRepository{db: tx}
}

func (r *HeartbeatRepository) Create(ctx context.Context, hb *models.Heartbeat) error {
	return r.db.WithContext(ctx).Create(hb).Error
}

// CreateBatch вставляет удары пачками, ID заполняются
func (r *HeartbeatRepository) CreateBatch(ctx context.Context, beats []models.Heartbeat) error {
	if len(beats) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(&beats, 200).Error
}

func (r *HeartbeatRepository) ListByPatient(ctx context.Context, patientID uint) ([]models.Heartbeat, error) {
	var out []models.Heartbeat
	err := r.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("timestamp, id").
		Find(&out).Error
	return out, err
}

// GetForPatient возвращает удар только если он принадлежит пациенту
func (r *HeartbeatRepository) GetForPatient(ctx context.Context, patientID, heartbeatID uint) (*models.Heartbeat, error) {
	var hb models.Heartbeat
	err := r.db.WithContext(ctx).
		Where("id = ? AND patient_id = ?", heartbeatID, patientID).
		First(&hb).Error
	if err != nil {
		return nil, err
	}
	return &hb, nil
}

// ListLabelled все удары с известной разметкой, по возрастанию id
func (r *HeartbeatRepository) ListLabelled(ctx context.Context) ([]models.Heartbeat, error) {
	var out []models.Heartbeat
	err := r.db.WithContext(ctx).
		Where("heartbeat_type IS NOT NULL").
		Order("id").
		Find(&out).Error
	return out, err
}

func (r *HeartbeatRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Heartbeat{}).Count(&n).Error
	return n, err
}

func (r *HeartbeatRepository) CountPredictedIn(ctx context.Context, labels []string) (int64, error) {
	var n int64
	if len(labels) == 0 {
		return 0, nil
	}
	err := r.db.WithContext(ctx).Model(&models.Heartbeat{}).
		Where("predicted_type IN ?", labels).
		Count(&n).Error
	return n, err
}

func (r *HeartbeatRepository) CountByPatient(ctx context.Context, patientID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Heartbeat{}).
		Where("patient_id = ?", patientID).
		Count(&n).Error
	return n, err
}

type LabelCount struct {
	Label string
	Count int64
}

// PredictionCounts частоты предсказанных меток пациента, самые частые первыми
func (r *HeartbeatRepository) PredictionCounts(ctx context.Context, patientID uint) ([]LabelCount, error) {
	var out []LabelCount
	err := r.db.WithContext(ctx).Model(&models.Heartbeat{}).
		Select("predicted_type AS label, COUNT(*) AS count").
		Where("patient_id = ? AND predicted_type IS NOT NULL", patientID).
		Group("predicted_type").
		Order("count DESC, label").
		Scan(&out).Error
	return out, err
}
