package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/database"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "repo.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func strPtr(s string) *string { return &s }

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(setupDB(t))

	u := &models.User{Email: "doc@example.com", PasswordHash: "x"}
	require.NoError(t, repo.Create(ctx, u))
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, models.RoleDoctor, u.Role)

	byEmail, err := repo.GetByEmail(ctx, "doc@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestFindOrCreateByRecord(t *testing.T) {
	ctx := context.Background()
	repo := NewPatientRepository(setupDB(t))

	p1, err := repo.FindOrCreateByRecord(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "Patient 100", p1.Name)

	p2, err := repo.FindOrCreateByRecord(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestHeartbeatQueries(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	patients := NewPatientRepository(db)
	beats := NewHeartbeatRepository(db)

	p := &models.Patient{Name: "Ann"}
	other := &models.Patient{Name: "Bob"}
	require.NoError(t, patients.Create(ctx, p))
	require.NoError(t, patients.Create(ctx, other))

	for _, hb := range []*models.Heartbeat{
		{PatientID: p.ID, PredictedType: strPtr("Ventricular"), HeartbeatType: strPtr("2")},
		{PatientID: p.ID, PredictedType: strPtr("Ventricular")},
		{PatientID: p.ID, PredictedType: strPtr("Normal"), HeartbeatType: strPtr("0")},
		{PatientID: other.ID},
	} {
		require.NoError(t, beats.Create(ctx, hb))
	}

	labelled, err := beats.ListLabelled(ctx)
	require.NoError(t, err)
	assert.Len(t, labelled, 2)
	assert.Less(t, labelled[0].ID, labelled[1].ID)

	counts, err := beats.PredictionCounts(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, "Ventricular", counts[0].Label)
	assert.EqualValues(t, 2, counts[0].Count)

	counts, err = beats.PredictionCounts(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, counts)

	_, err = beats.GetForPatient(ctx, other.ID, labelled[0].ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestModelRepositoryLatest(t *testing.T) {
	ctx := context.Background()
	repo := NewModelRepository(setupDB(t))

	require.NoError(t, repo.CreateTrained(ctx, &models.TrainedModel{Version: "1.1", FilePath: "a", UserID: "u"}))
	require.NoError(t, repo.CreateTrained(ctx, &models.TrainedModel{Version: "1.2", FilePath: "b", UserID: "u"}))

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.2", latest.Version)

	versions, err := repo.Versions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1.1", "1.2"}, versions)
}
