package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/models"
	"gorm.io/gorm"
)

type PatientRepository struct {
	db *gorm.DB
}

func NewPatientRepository(db *gorm.DB) *PatientRepository {
	return &PatientRepository{db: db}
}

// WithTx возвращает репозиторий, работающий внутри транзакции tx
func (r *PatientRepository) WithTx(tx *gorm.DB) *PatientRepository {
	return &PatientRepository{db: tx}
}

func (r *PatientRepository) Create(ctx context.Context, p *models.Patient) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PatientRepository) GetByID(ctx context.Context, id uint) (*models.Patient, error) {
	var p models.Patient
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PatientRepository) List(ctx context.Context) ([]models.Patient, error) {
	var patients []models.Patient
	err := r.db.WithContext(ctx).Order("id").Find(&patients).Error
	return patients, err
}

func (r *PatientRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Patient{}).Count(&n).Error
	return n, err
}

// FindOrCreateByRecord ищет пациента по record id, при отсутствии создает
// карточку с именем "Patient <record>".
func (r *PatientRepository) FindOrCreateByRecord(ctx context.Context, record string) (*models.Patient, error) {
	var p models.Patient
	err := r.db.WithContext(ctx).Where("record_id = ?", record).First(&p).Error
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	rec := record
	p = models.Patient{RecordID: &rec, Name: fmt.Sprintf("Patient %s", record)}
	if err := r.db.WithContext(ctx).Create(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
