package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/database"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/models"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/repository"
)

const (
	StatusArrhythmic = "Arrhythmic"
	StatusNormal     = "Normal"
)

var (
	ErrPatientNotFound   = errors.New("patient not found")
	ErrHeartbeatNotFound = errors.New("heartbeat not found")
	ErrInvalidPatient    = errors.New("invalid patient data")
	ErrRecordTaken       = errors.New("patient with this record id already exists")
	ErrInvalidUpload     = errors.New("invalid patient upload")
)

// PatientService карточки пациентов, их удары и сводка для дашборда
type PatientService struct {
	db         *gorm.DB
	patients   *repository.PatientRepository
	heartbeats *repository.HeartbeatRepository

	abnormal   []string
	classified []string
}

// NewPatientService abnormal метки, при которых пациент считается аритмичным;
// classified метки, которые учитываются в classified_arrhythmias.
func NewPatientService(db *gorm.DB, abnormal, classified []string) *PatientService {
	return &PatientService{
		db:         db,
		patients:   repository.NewPatientRepository(db),
		heartbeats: repository.NewHeartbeatRepository(db),
		abnormal:   lo.Uniq(append(append([]string(nil), abnormal...), StatusArrhythmic)),
		classified: classified,
	}
}

func (s *PatientService) Create(ctx context.Context, req *models.CreatePatientRequest) (*models.Patient, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidPatient)
	}

	p := &models.Patient{
		Name:        name,
		Gender:      trimmedOrNil(req.Gender),
		ContactInfo: trimmedOrNil(req.ContactInfo),
		RecordID:    trimmedOrNil(req.RecordID),
	}
	if bd := trimmedOrNil(req.BirthDate); bd != nil {
		t, err := time.Parse("2006-01-02", *bd)
		if err != nil {
			return nil, fmt.Errorf("%w: birth_date must be YYYY-MM-DD", ErrInvalidPatient)
		}
		p.BirthDate = &t
	}

	if err := s.patients.Create(ctx, p); err != nil {
		if database.IsDuplicate(err) {
			return nil, ErrRecordTaken
		}
		return nil, err
	}
	slog.Info("Patient created", "patient_id", p.ID)
	return p, nil
}

func (s *PatientService) List(ctx context.Context) ([]models.Patient, error) {
	return s.patients.List(ctx)
}

func (s *PatientService) Get(ctx context.Context, id uint) (*models.Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if database.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %d", ErrPatientNotFound, id)
	}
	return p, err
}

func (s *PatientService) Heartbeats(ctx context.Context, patientID uint) ([]models.Heartbeat, error) {
	if _, err := s.Get(ctx, patientID); err != nil {
		return nil, err
	}
	return s.heartbeats.ListByPatient(ctx, patientID)
}

func (s *PatientService) Heartbeat(ctx context.Context, patientID, heartbeatID uint) (*models.Heartbeat, error) {
	if _, err := s.Get(ctx, patientID); err != nil {
		return nil, err
	}
	hb, err := s.heartbeats.GetForPatient(ctx, patientID, heartbeatID)
	if database.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %d", ErrHeartbeatNotFound, heartbeatID)
	}
	return hb, err
}

// Status аритмичный, если хотя бы один удар предсказан в аномальный класс
func (s *PatientService) Status(ctx context.Context, patientID uint) (*models.PatientStatus, error) {
	if _, err := s.Get(ctx, patientID); err != nil {
		return nil, err
	}

	count, err := s.heartbeats.CountByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	counts, err := s.heartbeats.PredictionCounts(ctx, patientID)
	if err != nil {
		return nil, err
	}

	status := &models.PatientStatus{
		PatientID:      patientID,
		Status:         StatusNormal,
		HeartbeatCount: count,
	}
	if len(counts) > 0 {
		top := counts[0].Label
		status.MostCommonPrediction = &top
	}
	if lo.SomeBy(counts, func(c repository.LabelCount) bool { return lo.Contains(s.abnormal, c.Label) }) {
		status.Status = StatusArrhythmic
	}
	return status, nil
}

// Stats total_arrhythmias совпадает с total_heartbeats, как в исходной панели
func (s *PatientService) Stats(ctx context.Context) (*models.DashboardStats, error) {
	patients, err := s.patients.Count(ctx)
	if err != nil {
		return nil, err
	}
	beats, err := s.heartbeats.Count(ctx)
	if err != nil {
		return nil, err
	}
	classified, err := s.heartbeats.CountPredictedIn(ctx, s.classified)
	if err != nil {
		return nil, err
	}
	return &models.DashboardStats{
		TotalPatients:         patients,
		TotalArrhythmias:      beats,
		TotalHeartbeats:       beats,
		ClassifiedArrhythmias: classified,
	}, nil
}

var bulkColumns = []string{"name", "gender", "birth_date", "contact_info", "record"}

// BulkImport загружает пациентов из CSV; ошибочные строки пропускаются
func (s *PatientService) BulkImport(ctx context.Context, r io.Reader) (*models.BulkUploadResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidUpload)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	cols := map[string]int{}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if lo.Contains(bulkColumns, key) {
			cols[key] = i
		}
	}
	if _, ok := cols["name"]; !ok {
		return nil, fmt.Errorf("%w: missing name column", ErrInvalidUpload)
	}

	result := &models.BulkUploadResult{Errors: []string{}}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		patients := s.patients.WithTx(tx)
		line := 1
		for {
			record, err := reader.Read()
			if errors.Is(err, io.EOF) {
				return nil
			}
			line++
			if err != nil {
				result.Skipped++
				result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", line, err))
				continue
			}

			p, reason := patientFromRow(record, cols)
			if reason != "" {
				result.Skipped++
				result.Errors = append(result.Errors, fmt.Sprintf("row %d: %s", line, reason))
				continue
			}

			// точка сохранения на строку: ошибка вставки не обрывает загрузку
			err = tx.Transaction(func(rowTx *gorm.DB) error {
				return patients.WithTx(rowTx).Create(ctx, p)
			})
			if err != nil {
				result.Skipped++
				if database.IsDuplicate(err) {
					result.Errors = append(result.Errors, fmt.Sprintf("row %d: record already exists", line))
				} else {
					result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", line, err))
				}
				continue
			}
			result.Added++
		}
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Patients bulk upload finished", "added", result.Added, "skipped", result.Skipped)
	return result, nil
}

func patientFromRow(record []string, cols map[string]int) (*models.Patient, string) {
	get := func(key string) *string {
		i, ok := cols[key]
		if !ok || i >= len(record) {
			return nil
		}
		return trimmedOrNil(&record[i])
	}

	name := get("name")
	if name == nil {
		return nil, "missing name"
	}
	p := &models.Patient{
		Name:        *name,
		Gender:      get("gender"),
		ContactInfo: get("contact_info"),
		RecordID:    get("record"),
	}
	if bd := get("birth_date"); bd != nil {
		if t, err := dateparse.ParseAny(*bd); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			p.BirthDate = &d
		}
	}
	return p, ""
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
