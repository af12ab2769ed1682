package training

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/artifacts"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/config"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/database"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/journal"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/ml"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/models"
)

const testWidth = 20

type purgeCounter struct{ n atomic.Int32 }

func (p *purgeCounter) Purge() { p.n.Add(1) }

type fixture struct {
	orch    *Orchestrator
	db      *gorm.DB
	store   *artifacts.LocalStore
	journal *journal.Journal
	cache   *purgeCounter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	db, err := database.OpenSQLite(filepath.Join(dir, "train.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	store, err := artifacts.NewLocalStore(filepath.Join(dir, "model"))
	require.NoError(t, err)

	j, err := journal.Open(filepath.Join(dir, "journal"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	vocab, err := ml.NewVocabulary([]string{"0", "1", "2", "3", "4"}, nil)
	require.NoError(t, err)

	cache := &purgeCounter{}
	orch := NewOrchestrator(Options{
		DB:        db,
		Validator: ml.NewValidator(testWidth, vocab),
		Store:     store,
		Journal:   j,
		Cache:     cache,
		Config: config.TrainingConfig{
			MajorVersion:    1,
			Epochs:          1,
			BatchSize:       8,
			ValidationSplit: 0.2,
			Seed:            42,
		},
	})
	return &fixture{orch: orch, db: db, store: store, journal: j, cache: cache}
}

func seedHeartbeats(t *testing.T, db *gorm.DB, n int) {
	t.Helper()
	p := &models.Patient{Name: "Training"}
	require.NoError(t, db.Create(p).Error)
	for i := 0; i < n; i++ {
		label := strconv.Itoa(i % 3)
		features := make(datatypes.JSONSlice[float64], testWidth)
		for j := range features {
			features[j] = math.Sin(float64(i+j)) * float64(i%3+1)
		}
		require.NoError(t, db.Create(&models.Heartbeat{
			PatientID:     p.ID,
			ECGFeatures:   features,
			HeartbeatType: &label,
		}).Error)
	}
	// исключаемая запись: слишком короткий вектор
	bad := "1"
	require.NoError(t, db.Create(&models.Heartbeat{
		PatientID:     p.ID,
		ECGFeatures:   datatypes.JSONSlice[float64]{1, 2, 3},
		HeartbeatType: &bad,
	}).Error)
	// без разметки в обучение не попадает
	require.NoError(t, db.Create(&models.Heartbeat{PatientID: p.ID}).Error)
}

func countTrained(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.TrainedModel{}).Count(&n).Error)
	return n
}

func TestNextVersion(t *testing.T) {
	assert.Equal(t, "1.6", NextVersion([]string{"1.1", "1.2", "1.5"}, 1))
	assert.Equal(t, "1.1", NextVersion(nil, 1))
	assert.Equal(t, "1.3", NextVersion([]string{"1.2", "garbage", "x.y"}, 1))
	// у каждой серии MAJOR своя нумерация
	assert.Equal(t, "2.1", NextVersion([]string{"1.3"}, 2))
	assert.Equal(t, "2.3", NextVersion([]string{"1.7", "2.2"}, 2))
	assert.Equal(t, "1.8", NextVersion([]string{"1.7", "2.2"}, 1))
}

func TestRetrainEmptyDataset(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Retrain(context.Background(), "user-1")
	assert.ErrorIs(t, err, ml.ErrNoValidData)

	assert.Zero(t, countTrained(t, f.db))
	names, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Zero(t, f.cache.n.Load())
}

func TestRetrainCreatesVersions(t *testing.T) {
	f := newFixture(t)
	seedHeartbeats(t, f.db, 20)
	ctx := context.Background()

	res, err := f.orch.Retrain(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "1.1", res.Version)
	assert.Equal(t, "model_cnn_lstm_v1_1", res.ModelName)
	assert.Equal(t, 16, res.TrainedRows)
	assert.Equal(t, 4, res.ValidationRows)
	assert.Equal(t, 1, res.SkippedRows)
	require.Len(t, res.History, 1)
	assert.NotNil(t, res.ValAccuracy)

	exists, err := f.store.Exists(ctx, res.ModelName+".gob")
	require.NoError(t, err)
	assert.True(t, exists)

	report, err := f.journal.Get("1.1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", report.UserID)
	assert.Equal(t, 1, report.SkippedRows)
	assert.EqualValues(t, 1, f.cache.n.Load())

	res2, err := f.orch.Retrain(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, "1.2", res2.Version)
	assert.EqualValues(t, 2, countTrained(t, f.db))

	var row models.TrainedModel
	require.NoError(t, f.db.Where("version = ?", "1.2").First(&row).Error)
	assert.Equal(t, "user-2", row.UserID)
	assert.Equal(t, res2.FilePath, row.FilePath)
}

func TestRetrainVersionConflict(t *testing.T) {
	f := newFixture(t)
	seedHeartbeats(t, f.db, 10)
	ctx := context.Background()

	// другой процесс уже занял версию 1.1 после чтения списка версий
	require.NoError(t, f.db.Create(&models.TrainedModel{Version: "1.1", FilePath: "elsewhere", UserID: "other"}).Error)
	f.orch.nextVersion = func([]string, int) string { return "1.1" }

	_, err := f.orch.Retrain(ctx, "user-1")
	require.ErrorIs(t, err, ErrVersionConflict)

	assert.EqualValues(t, 1, countTrained(t, f.db))
	names, err := f.store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names, "staged artifact must be discarded")
	assert.Zero(t, f.cache.n.Load())
}

type fakeRunner struct {
	delay time.Duration
	calls atomic.Int32
	fail  bool
}

func (r *fakeRunner) Retrain(ctx context.Context, userID string) (*Result, error) {
	n := r.calls.Add(1)
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.fail {
		return nil, errors.New("boom")
	}
	return &Result{Version: "1." + strconv.Itoa(int(n))}, nil
}

func TestPoolRunsJobs(t *testing.T) {
	runner := &fakeRunner{delay: 10 * time.Millisecond}
	pool := NewPool(runner, 1, 4)
	pool.Start()
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	a, err := pool.Submit("u1")
	require.NoError(t, err)
	b, err := pool.Submit("u2")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resA, err := a.Wait(ctx)
	require.NoError(t, err)
	resB, err := b.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, "1.1", resA.Version, "single worker runs jobs in submission order")
	assert.Equal(t, "1.2", resB.Version)
	assert.Equal(t, JobSucceeded, a.Status())

	got, err := pool.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.View().UserID)
	assert.Len(t, pool.List(), 2)

	_, err = pool.Get("missing")
	assert.ErrorIs(t, err, ErrJobUnknown)
}

func TestPoolFailureAndQueueLimits(t *testing.T) {
	runner := &fakeRunner{delay: 50 * time.Millisecond, fail: true}
	pool := NewPool(runner, 1, 1)

	// без воркеров очередь из одного места заполняется сразу
	job, err := pool.Submit("u1")
	require.NoError(t, err)
	_, err = pool.Submit("u2")
	assert.ErrorIs(t, err, ErrQueueFull)

	pool.Start()
	_, err = job.Wait(context.Background())
	assert.EqualError(t, err, "boom")
	assert.Equal(t, JobFailed, job.Status())
	assert.Equal(t, "boom", job.View().Error)

	require.NoError(t, pool.Shutdown(context.Background()))
	_, err = pool.Submit("u3")
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestJobWaitHonoursContext(t *testing.T) {
	pool := NewPool(&fakeRunner{delay: time.Second}, 1, 1)
	job, err := pool.Submit("u1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = job.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, JobQueued, job.Status())
}
