// Package training переобучает классификатор на размеченных ударах
// и регистрирует новую версию модели.
package training

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/artifacts"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/config"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/database"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/events"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/journal"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/metrics"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/ml"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/models"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/nn"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/repository"
)

// CachePurger сбрасывает кэш загруженных моделей после новой версии
type CachePurger interface {
	Purge()
}

type Result struct {
	Version        string         `json:"version"`
	ModelName      string         `json:"model_name"`
	FilePath       string         `json:"file_path"`
	TrainedRows    int            `json:"trained_rows"`
	ValidationRows int            `json:"validation_rows"`
	SkippedRows    int            `json:"skipped_rows"`
	Exclusions     []ml.Exclusion `json:"exclusions,omitempty"`
	History        nn.History     `json:"history"`
	ValAccuracy    *float64       `json:"val_accuracy,omitempty"`
}

type Options struct {
	DB        *gorm.DB
	Validator *ml.Validator
	Store     artifacts.Store
	Journal   *journal.Journal
	Cache     CachePurger
	Events    events.Publisher
	Config    config.TrainingConfig
}

type Orchestrator struct {
	db         *gorm.DB
	heartbeats *repository.HeartbeatRepository
	models     *repository.ModelRepository
	validator  *ml.Validator
	store      artifacts.Store
	journal    *journal.Journal
	cache      CachePurger
	events     events.Publisher
	cfg        config.TrainingConfig

	nextVersion func(existing []string, major int) string
	now         func() time.Time
}

func NewOrchestrator(opts Options) *Orchestrator {
	pub := opts.Events
	if pub == nil {
		pub = events.Nop{}
	}
	return &Orchestrator{
		db:          opts.DB,
		heartbeats:  repository.NewHeartbeatRepository(opts.DB),
		models:      repository.NewModelRepository(opts.DB),
		validator:   opts.Validator,
		store:       opts.Store,
		journal:     opts.Journal,
		cache:       opts.Cache,
		events:      pub,
		cfg:         opts.Config,
		nextVersion: NextVersion,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Retrain обучает новую сеть на всех размеченных ударах и сохраняет версию
func (o *Orchestrator) Retrain(ctx context.Context, userID string) (res *Result, err error) {
	defer metrics.Time(metrics.TrainingDuration)()
	defer func() { metrics.TrainingRuns.WithLabelValues(metrics.Result(err)).Inc() }()

	started := o.now()
	slog.Info("Retraining started", "user_id", userID)

	beats, err := o.heartbeats.ListLabelled(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch labelled heartbeats: %w", err)
	}
	rows := lo.Map(beats, func(hb models.Heartbeat, _ int) ml.Row {
		return ml.Row{ID: hb.ID, Features: featureVector(hb), Label: hb.HeartbeatType}
	})

	samples, excluded := o.validator.Filter(rows)
	metrics.TrainingRowsExcluded.Add(float64(len(excluded)))
	if len(excluded) > 0 {
		slog.Warn("Heartbeats excluded from training",
			"excluded", len(excluded),
			"included", len(samples),
		)
	}

	ds, err := ml.Assemble(samples, o.validator.Width, o.validator.Vocab)
	if err != nil {
		return nil, err
	}

	net, err := nn.BuildCNNLSTM(ds.Width, o.validator.Vocab.Len(), o.cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("build network: %w", err)
	}

	train, val := ds.Split(o.cfg.ValidationSplit)
	history, err := net.Fit(ctx,
		nn.Samples{X: train.X, Y: train.Y},
		nn.Samples{X: val.X, Y: val.Y},
		nn.FitConfig{Epochs: o.cfg.Epochs, BatchSize: o.cfg.BatchSize, Seed: o.cfg.Seed},
		nn.NewAdam(),
	)
	if err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}

	res = &Result{
		TrainedRows:    train.Len(),
		ValidationRows: val.Len(),
		SkippedRows:    len(excluded),
		Exclusions:     excluded,
		History:        history,
	}
	if last := history.Last(); last != nil {
		res.ValAccuracy = last.ValAccuracy
	}

	row, err := o.commit(ctx, net, userID, res)
	if err != nil {
		return nil, err
	}
	res.Version = row.Version
	res.FilePath = row.FilePath
	res.ModelName, _ = artifacts.ModelName(row.Version)

	o.afterCommit(userID, started, res)
	slog.Info("Model retrained",
		"version", res.Version,
		"path", res.FilePath,
		"trained_rows", res.TrainedRows,
		"skipped_rows", res.SkippedRows,
	)
	return res, nil
}

// commit выделяет версию, пишет артефакт и строку TrainedModel в одной транзакции.
// Уникальный индекс на version разрешает гонку между процессами.
func (o *Orchestrator) commit(ctx context.Context, net *nn.Network, userID string, res *Result) (*models.TrainedModel, error) {
	var (
		row       *models.TrainedModel
		published string
	)
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := o.models.WithTx(tx)
		versions, err := repo.Versions(ctx)
		if err != nil {
			return err
		}
		version := o.nextVersion(versions, o.cfg.MajorVersion)
		name, err := artifacts.ModelFileName(version)
		if err != nil {
			return err
		}

		staged, err := o.store.Stage(ctx, name, net.Save)
		if err != nil {
			return fmt.Errorf("write model artifact: %w", err)
		}

		row = &models.TrainedModel{
			Version:     version,
			FilePath:    staged.Location(),
			UserID:      userID,
			TrainedRows: res.TrainedRows,
			SkippedRows: res.SkippedRows,
			ValAccuracy: res.ValAccuracy,
		}
		if err := repo.CreateTrained(ctx, row); err != nil {
			_ = staged.Discard()
			if database.IsDuplicate(err) {
				return fmt.Errorf("%w: %s", ErrVersionConflict, version)
			}
			return err
		}
		if err := staged.Commit(ctx); err != nil {
			_ = staged.Discard()
			return fmt.Errorf("publish model artifact: %w", err)
		}
		published = name
		return nil
	})
	if err != nil {
		if published != "" {
			if derr := o.store.Delete(context.WithoutCancel(ctx), published); derr != nil {
				slog.Error("Failed to remove orphaned artifact", "name", published, "error", derr)
			}
		}
		return nil, err
	}
	return row, nil
}

func (o *Orchestrator) afterCommit(userID string, started time.Time, res *Result) {
	if o.journal != nil {
		report := &journal.Report{
			Version:        res.Version,
			UserID:         userID,
			StartedAt:      started,
			FinishedAt:     o.now(),
			TrainedRows:    res.TrainedRows,
			ValidationRows: res.ValidationRows,
			SkippedRows:    res.SkippedRows,
			Exclusions:     res.Exclusions,
			History:        res.History,
			ValAccuracy:    res.ValAccuracy,
			ArtifactPath:   res.FilePath,
		}
		if err := o.journal.Put(report); err != nil {
			slog.Warn("Failed to journal training run", "version", res.Version, "error", err)
		}
	}
	if o.cache != nil {
		o.cache.Purge()
	}
	events.PublishAsync(o.events, events.Event{
		Type: events.TypeModelRetrained,
		Key:  res.Version,
		Payload: map[string]any{
			"version":      res.Version,
			"model_name":   res.ModelName,
			"user_id":      userID,
			"trained_rows": res.TrainedRows,
			"skipped_rows": res.SkippedRows,
			"val_accuracy": res.ValAccuracy,
		},
	})
}

// featureVector вектор текущей схемы; nil если у удара только старые табличные признаки
func featureVector(hb models.Heartbeat) []float64 {
	if hb.ECGFeatures == nil {
		return nil
	}
	return []float64(hb.ECGFeatures)
}
