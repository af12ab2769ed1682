package seed

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/database"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/ml"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/repository"
)

func TestRunSeedsLabelledHeartbeats(t *testing.T) {
	ctx := context.Background()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "seed.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	vocab, err := ml.NewVocabulary([]string{"0", "1", "2"}, []string{"Normal", "Ventricular", "Fusion"})
	require.NoError(t, err)

	res, err := Run(ctx, db, vocab, Options{Patients: 3, BeatsPerPatient: 10, Width: 20, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Patients)
	assert.Equal(t, 30, res.Heartbeats)

	labelled, err := repository.NewHeartbeatRepository(db).ListLabelled(ctx)
	require.NoError(t, err)
	require.Len(t, labelled, 30)

	rows := make([]ml.Row, len(labelled))
	for i, hb := range labelled {
		rows[i] = ml.Row{ID: hb.ID, Features: hb.ECGFeatures, Label: hb.HeartbeatType}
	}
	samples, excluded := ml.NewValidator(20, vocab).Filter(rows)
	assert.Empty(t, excluded)
	assert.Len(t, samples, 30)
}
