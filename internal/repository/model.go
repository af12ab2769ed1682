package repository

import (
	"context"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/models"
	"gorm.io/gorm"
)

type ModelRepository struct {
	db *gorm.DB
}

func NewModelRepository(db *gorm.DB) *ModelRepository {
	return &ModelRepository{db: db}
}

func (r *ModelRepository) WithTx(tx *gorm.DB) *ModelRepository {
	return &ModelRepository{db: tx}
}

func (r *ModelRepository) DB() *gorm.DB {
	return r.db
}

func (r *ModelRepository) Versions(ctx context.Context) ([]string, error) {
	var versions []string
	err := r.db.WithContext(ctx).Model(&models.TrainedModel{}).Pluck("version", &versions).Error
	return versions, err
}

func (r *ModelRepository) CreateTrained(ctx context.Context, m *models.TrainedModel) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *ModelRepository) ListTrained(ctx context.Context) ([]models.TrainedModel, error) {
	var out []models.TrainedModel
	err := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&out).Error
	return out, err
}

func (r *ModelRepository) Latest(ctx context.Context) (*models.TrainedModel, error) {
	var m models.TrainedModel
	if err := r.db.WithContext(ctx).Order("id DESC").First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *ModelRepository) GetByVersion(ctx context.Context, version string) (*models.TrainedModel, error) {
	var m models.TrainedModel
	if err := r.db.WithContext(ctx).Where("version = ?", version).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *ModelRepository) CreatePerformance(ctx context.Context, p *models.ModelPerformance) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *ModelRepository) ListPerformance(ctx context.Context) ([]models.ModelPerformance, error) {
	var out []models.ModelPerformance
	err := r.db.WithContext(ctx).Order("timestamp DESC, id DESC").Find(&out).Error
	return out, err
}

func (r *ModelRepository) GetPerformance(ctx context.Context, id uint) (*models.ModelPerformance, error) {
	var p models.ModelPerformance
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ModelRepository) CreatePredictions(ctx context.Context, preds []models.Prediction) error {
	if len(preds) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(preds, 200).Error
}
