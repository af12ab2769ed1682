// Package inference классифицирует загруженные удары сохраненной моделью
// и записывает результаты в хранилище.
package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/samber/lo"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/artifacts"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/database"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/events"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/metrics"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/ml"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/models"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/nn"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/repository"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/utils"
)

const LatestModel = "latest"

var (
	ErrModelNotFound   = errors.New("model not found")
	ErrPatientRequired = errors.New("csv has no record column: patient_id is required")
	ErrPatientNotFound = errors.New("patient not found")
	ErrEmptyBatch      = errors.New("no rows to classify")
)

type PredictInput struct {
	UserID    string
	ModelName string
	CSV       io.Reader
	PatientID *uint
}

type RowPrediction struct {
	Row         int     `json:"row"`
	LabelIndex  int     `json:"label_index"`
	Label       string  `json:"label"`
	LabelName   string  `json:"label_name"`
	Confidence  float64 `json:"confidence"`
	HeartbeatID uint    `json:"heartbeat_id"`
	PatientID   uint    `json:"patient_id"`
	Truth       *string `json:"truth,omitempty"`
}

type PredictOutput struct {
	ModelUsed       string          `json:"model_used"`
	Predictions     []RowPrediction `json:"predictions"`
	Skipped         int             `json:"skipped"`
	SkippedRows     []ml.RowError   `json:"skipped_rows,omitempty"`
	Warnings        []ml.RowError   `json:"warnings,omitempty"`
	Accuracy        *float64        `json:"accuracy,omitempty"`
	ConfusionMatrix [][]int         `json:"confusion_matrix,omitempty"`
	Labels          []int           `json:"labels,omitempty"`
	PerformanceID   *uint           `json:"performance_id,omitempty"`
}

type Service struct {
	db         *gorm.DB
	models     *repository.ModelRepository
	patients   *repository.PatientRepository
	heartbeats *repository.HeartbeatRepository
	cache      *ModelCache
	schema     ml.Schema
	vocab      *ml.Vocabulary
	events     events.Publisher
}

func NewService(db *gorm.DB, cache *ModelCache, schema ml.Schema, vocab *ml.Vocabulary, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		db:         db,
		models:     repository.NewModelRepository(db),
		patients:   repository.NewPatientRepository(db),
		heartbeats: repository.NewHeartbeatRepository(db),
		cache:      cache,
		schema:     schema,
		vocab:      vocab,
		events:     pub,
	}
}

func (s *Service) Schema() ml.Schema { return s.schema }

// ResolveModel находит запись модели по имени: "latest", версия "1.3"
// или имя артефакта model_cnn_lstm_v1_3[.gob].
func (s *Service) ResolveModel(ctx context.Context, name string) (*models.TrainedModel, error) {
	name = strings.TrimSpace(name)
	var (
		row *models.TrainedModel
		err error
	)
	switch {
	case name == "" || strings.EqualFold(name, LatestModel):
		row, err = s.models.Latest(ctx)
	default:
		version, ok := artifacts.VersionFromName(name)
		if !ok {
			if _, _, verr := artifacts.SplitVersion(name); verr != nil {
				return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
			}
			version = name
		}
		row, err = s.models.GetByVersion(ctx, version)
	}
	if database.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	return row, err
}

// Load возвращает сеть для записи модели через кэш
func (s *Service) Load(ctx context.Context, row *models.TrainedModel) (*nn.Network, string, error) {
	fileName, err := artifacts.ModelFileName(row.Version)
	if err != nil {
		return nil, "", err
	}
	displayName, _ := artifacts.ModelName(row.Version)

	net, err := s.cache.Get(ctx, fileName)
	if errors.Is(err, artifacts.ErrNotFound) {
		return nil, "", fmt.Errorf("%w: artifact %s is missing", ErrModelNotFound, fileName)
	}
	if err != nil {
		return nil, "", err
	}
	if net.Width != s.schema.Width() {
		return nil, "", fmt.Errorf("%w: model %s expects %d features, schema has %d",
			ml.ErrSchemaMismatch, displayName, net.Width, s.schema.Width())
	}
	if net.Classes != s.vocab.Len() {
		return nil, "", fmt.Errorf("model %s has %d classes, vocabulary has %d", displayName, net.Classes, s.vocab.Len())
	}
	return net, displayName, nil
}

// Predict классифицирует каждую строку CSV и сохраняет результат в одной транзакции
func (s *Service) Predict(ctx context.Context, in PredictInput) (*PredictOutput, error) {
	row, err := s.ResolveModel(ctx, in.ModelName)
	if err != nil {
		return nil, err
	}

	batch, err := ml.ReadBatch(in.CSV, s.schema)
	if err != nil {
		return nil, err
	}
	return s.predictRows(ctx, in, row, batch)
}

// PredictRows классифицирует уже разобранные строки (поток с устройств).
// in.CSV не используется.
func (s *Service) PredictRows(ctx context.Context, in PredictInput, batch *ml.Batch) (*PredictOutput, error) {
	row, err := s.ResolveModel(ctx, in.ModelName)
	if err != nil {
		return nil, err
	}
	clean := &ml.Batch{Layout: batch.Layout, Skipped: append([]ml.RowError(nil), batch.Skipped...)}
	for _, r := range batch.Rows {
		if len(r.Features) != s.schema.Width() {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d",
				ml.ErrSchemaMismatch, r.Line, len(r.Features), s.schema.Width())
		}
		if i := ml.NonFinite(r.Features); i >= 0 {
			clean.Skipped = append(clean.Skipped, ml.RowError{Line: r.Line, Reason: fmt.Sprintf("non-finite feature %d", i)})
			continue
		}
		clean.Rows = append(clean.Rows, r)
	}
	return s.predictRows(ctx, in, row, clean)
}

func (s *Service) predictRows(ctx context.Context, in PredictInput, row *models.TrainedModel, batch *ml.Batch) (*PredictOutput, error) {
	if !batch.HasRecords() && in.PatientID == nil {
		return nil, ErrPatientRequired
	}
	metrics.PredictionRowsSkipped.Add(float64(len(batch.Skipped)))
	if len(batch.Rows) == 0 {
		return nil, fmt.Errorf("%w: %d rows skipped", ErrEmptyBatch, len(batch.Skipped))
	}

	net, modelName, err := s.Load(ctx, row)
	if err != nil {
		return nil, err
	}

	xs := lo.Map(batch.Rows, func(r ml.BatchRow, _ int) []float64 { return r.Features })
	probs, err := net.PredictBatch(ctx, xs)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}

	out := &PredictOutput{
		ModelUsed:   modelName,
		Predictions: make([]RowPrediction, len(batch.Rows)),
		Skipped:     len(batch.Skipped),
		SkippedRows: batch.Skipped,
	}
	var truth, pred []int
	for i, r := range batch.Rows {
		idx := utils.ArgMax(probs[i])
		out.Predictions[i] = RowPrediction{
			Row:        r.Line,
			LabelIndex: idx,
			Label:      s.vocab.Label(idx),
			LabelName:  s.vocab.Name(idx),
			Confidence: probs[i][idx],
		}
		if r.Label == nil {
			continue
		}
		ti, ok := s.vocab.Index(*r.Label)
		if !ok {
			out.Warnings = append(out.Warnings, ml.RowError{Line: r.Line, Reason: "invalid label: " + *r.Label})
			continue
		}
		out.Predictions[i].Truth = r.Label
		truth = append(truth, ti)
		pred = append(pred, idx)
	}
	if len(truth) > 0 {
		acc := ml.Accuracy(truth, pred)
		out.Accuracy = &acc
		out.Labels, out.ConfusionMatrix = ml.ConfusionMatrix(truth, pred)
	}

	if err := s.persist(ctx, in, batch, out); err != nil {
		return nil, err
	}

	for _, p := range out.Predictions {
		metrics.PredictionsTotal.WithLabelValues(p.LabelName).Inc()
	}
	events.PublishAsync(s.events, events.Event{
		Type: events.TypePredictionsScore,
		Key:  modelName,
		Payload: map[string]any{
			"model_used":     modelName,
			"user_id":        in.UserID,
			"rows":           len(out.Predictions),
			"skipped":        out.Skipped,
			"accuracy":       out.Accuracy,
			"performance_id": out.PerformanceID,
		},
	})
	conf := lo.Map(out.Predictions, func(p RowPrediction, _ int) float64 { return p.Confidence })
	slog.Info("Predictions stored",
		"model", modelName,
		"rows", len(out.Predictions),
		"skipped", out.Skipped,
		"mean_confidence", utils.Mean(conf),
		"p10_confidence", utils.Percentile(conf, 10),
		"user_id", in.UserID,
	)
	return out, nil
}

func (s *Service) persist(ctx context.Context, in PredictInput, batch *ml.Batch, out *PredictOutput) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		patients := s.patients.WithTx(tx)
		if in.PatientID != nil {
			if _, err := patients.GetByID(ctx, *in.PatientID); err != nil {
				if database.IsNotFound(err) {
					return fmt.Errorf("%w: %d", ErrPatientNotFound, *in.PatientID)
				}
				return err
			}
		}

		byRecord := map[string]uint{}
		beats := make([]models.Heartbeat, len(batch.Rows))
		for i, r := range batch.Rows {
			patientID, err := s.patientFor(ctx, patients, in.PatientID, r.Record, byRecord)
			if err != nil {
				return err
			}
			p := &out.Predictions[i]
			p.PatientID = patientID

			name, conf, model := p.LabelName, p.Confidence, out.ModelUsed
			beats[i] = models.Heartbeat{
				PatientID:            patientID,
				ECGFeatures:          datatypes.JSONSlice[float64](r.Features),
				HeartbeatType:        p.Truth,
				PredictedType:        &name,
				PredictionConfidence: &conf,
				ModelName:            &model,
			}
		}
		if err := s.heartbeats.WithTx(tx).CreateBatch(ctx, beats); err != nil {
			return fmt.Errorf("store heartbeats: %w", err)
		}

		modelRepo := s.models.WithTx(tx)
		logRows := make([]models.Prediction, len(beats))
		for i := range beats {
			out.Predictions[i].HeartbeatID = beats[i].ID
			hbID := beats[i].ID
			logRows[i] = models.Prediction{
				UserID:      in.UserID,
				Label:       out.Predictions[i].LabelName,
				ModelUsed:   out.ModelUsed,
				HeartbeatID: &hbID,
			}
		}
		if err := modelRepo.CreatePredictions(ctx, logRows); err != nil {
			return fmt.Errorf("store prediction log: %w", err)
		}

		if out.Accuracy != nil {
			perf := &models.ModelPerformance{
				ModelName:       out.ModelUsed,
				Accuracy:        out.Accuracy,
				ConfusionMatrix: datatypes.NewJSONType(out.ConfusionMatrix),
				Labels:          datatypes.JSONSlice[int](out.Labels),
				Samples:         lo.SumBy(out.ConfusionMatrix, lo.Sum[int]),
			}
			if err := modelRepo.CreatePerformance(ctx, perf); err != nil {
				return fmt.Errorf("store model performance: %w", err)
			}
			out.PerformanceID = &perf.ID
		}
		return nil
	})
}

// patientFor пациент строки: по record (с ленивым созданием) либо patient_id запроса
func (s *Service) patientFor(ctx context.Context, patients *repository.PatientRepository, fallback *uint, record *string, seen map[string]uint) (uint, error) {
	if record == nil {
		if fallback == nil {
			return 0, ErrPatientRequired
		}
		return *fallback, nil
	}
	if id, ok := seen[*record]; ok {
		return id, nil
	}
	p, err := patients.FindOrCreateByRecord(ctx, *record)
	if err != nil {
		return 0, fmt.Errorf("resolve patient for record %s: %w", *record, err)
	}
	seen[*record] = p.ID
	return p.ID, nil
}
