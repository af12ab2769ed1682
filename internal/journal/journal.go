// Package journal хранит отчеты о прогонах обучения в LevelDB.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/ml"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/nn"
)

var ErrNotFound = errors.New("training run not found")

const (
	runPrefix = "run_"
	latestKey = "run_latest"
)

// MaxExclusions сколько исключенных записей сохраняется в отчете
const MaxExclusions = 200

type Report struct {
	Version         string         `json:"version"`
	UserID          string         `json:"user_id"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
	TrainedRows     int            `json:"trained_rows"`
	ValidationRows  int            `json:"validation_rows"`
	SkippedRows     int            `json:"skipped_rows"`
	Exclusions      []ml.Exclusion `json:"exclusions,omitempty"`
	History         nn.History     `json:"history"`
	ValAccuracy     *float64       `json:"val_accuracy,omitempty"`
	ArtifactPath    string         `json:"artifact_path"`
	TruncatedReport bool           `json:"exclusions_truncated,omitempty"`
}

type Journal struct {
	db *leveldb.DB
}

func Open(path string) (*Journal, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	slog.Info("Training journal opened", "path", path)
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Put сохраняет отчет под ключом версии и обновляет указатель на последний
func (j *Journal) Put(r *Report) error {
	if len(r.Exclusions) > MaxExclusions {
		r.Exclusions = r.Exclusions[:MaxExclusions]
		r.TruncatedReport = true
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte(runPrefix+r.Version), data)
	batch.Put([]byte(latestKey), []byte(r.Version))
	return j.db.Write(batch, nil)
}

func (j *Journal) Get(version string) (*Report, error) {
	data, err := j.db.Get([]byte(runPrefix+version), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, version)
	}
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (j *Journal) Latest() (*Report, error) {
	v, err := j.db.Get([]byte(latestKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return j.Get(string(v))
}

// List все отчеты, новые первыми
func (j *Journal) List() ([]Report, error) {
	iter := j.db.NewIterator(util.BytesPrefix([]byte(runPrefix)), nil)
	defer iter.Release()

	var out []Report
	for iter.Next() {
		if string(iter.Key()) == latestKey {
			continue
		}
		var r Report
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(a, b int) bool { return out[a].FinishedAt.After(out[b].FinishedAt) })
	return out, nil
}
