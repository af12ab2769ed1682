package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FEATURE_WIDTH", "")
	t.Setenv("LABELS", "")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 187, cfg.ML.FeatureWidth)
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, cfg.ML.Labels)
	assert.Len(t, cfg.ML.LabelNames, len(cfg.ML.Labels))
	assert.Equal(t, 1, cfg.Training.MajorVersion)
	assert.Equal(t, 10, cfg.Training.Epochs)
	assert.Equal(t, 64, cfg.Training.BatchSize)
	assert.InDelta(t, 0.2, cfg.Training.ValidationSplit, 1e-9)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FEATURE_WIDTH", "32")
	t.Setenv("LABELS", " a, b ,,c ")
	t.Setenv("TRAIN_EPOCHS", "not-a-number")
	t.Setenv("JWT_ACCESS_TTL", "2m")
	t.Setenv("PATIENTS_REQUIRE_AUTH", "true")

	cfg := Load()

	require.Equal(t, 32, cfg.ML.FeatureWidth)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.ML.Labels)
	assert.Equal(t, 10, cfg.Training.Epochs, "invalid ints fall back to the default")
	assert.Equal(t, 2*time.Minute, cfg.JWT.AccessTokenExp)
	assert.True(t, cfg.Server.PatientsRequireAuth)
}
