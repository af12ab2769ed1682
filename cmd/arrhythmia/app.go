package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/artifacts"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/config"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/database"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/events"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/inference"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/journal"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/ml"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/repository"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/service"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/training"
)

// app общие компоненты всех команд
type app struct {
	cfg *config.Config
	db  *gorm.DB

	vocab     *ml.Vocabulary
	schema    ml.Schema
	store     artifacts.Store
	journal   *journal.Journal
	events    events.Publisher
	cache     *inference.ModelCache
	inference *inference.Service
	trainer   *training.Orchestrator
	patients  *service.PatientService
	models    *repository.ModelRepository
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.vocab, err = ml.NewVocabulary(cfg.ML.Labels, cfg.ML.LabelNames); err != nil {
		return nil, fmt.Errorf("label vocabulary: %w", err)
	}
	a.schema = ml.NewSchema(cfg.ML.FeatureWidth)

	if a.db, err = database.Connect(cfg.Database, cfg.Server.Env); err != nil {
		return nil, err
	}
	if err = database.Migrate(a.db); err != nil {
		return nil, err
	}

	if a.store, err = artifacts.New(ctx, cfg.Artifacts); err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}
	if a.journal, err = journal.Open(cfg.Journal.Dir); err != nil {
		return nil, fmt.Errorf("training journal: %w", err)
	}
	a.events = events.New(cfg.Kafka)

	if a.cache, err = inference.NewModelCache(a.store, cfg.ML.ModelCacheSize); err != nil {
		return nil, err
	}
	a.inference = inference.NewService(a.db, a.cache, a.schema, a.vocab, a.events)
	a.trainer = training.NewOrchestrator(training.Options{
		DB:        a.db,
		Validator: ml.NewValidator(cfg.ML.FeatureWidth, a.vocab),
		Store:     a.store,
		Journal:   a.journal,
		Cache:     a.cache,
		Events:    a.events,
		Config:    cfg.Training,
	})
	a.patients = service.NewPatientService(a.db, a.vocab.AbnormalNames(cfg.ML.NormalLabel), cfg.ML.ClassifiedLabels)
	a.models = repository.NewModelRepository(a.db)

	slog.Info("Application initialized",
		"feature_width", cfg.ML.FeatureWidth,
		"classes", a.vocab.Len(),
		"artifact_backend", cfg.Artifacts.Backend,
	)
	return a, nil
}

func (a *app) Close() {
	var errs []error
	if a.events != nil {
		errs = append(errs, a.events.Close())
	}
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if a.db != nil {
		errs = append(errs, database.Close(a.db))
	}
	if err := errors.Join(errs...); err != nil {
		slog.Error("Failed to release resources", "error", err)
	}
}
