package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPasswordWithCost("correct-horse", bcrypt.MinCost)
	require.NoError(t, err)

	assert.NoError(t, CheckPassword(hash, "correct-horse"))
	assert.Error(t, CheckPassword(hash, "wrong-horse"))
}

func TestHashPasswordLength(t *testing.T) {
	_, err := HashPassword("short")
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	long := make([]byte, MaxPasswordLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = HashPassword(string(long))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestSoftmaxAndArgMax(t *testing.T) {
	p := Softmax(nil, []float64{1, 3, 2})
	assert.InDelta(t, 1.0, p[0]+p[1]+p[2], 1e-12)
	assert.Equal(t, 1, ArgMax(p))

	// большие логиты не переполняются
	p = Softmax(nil, []float64{1000, 1000})
	assert.InDelta(t, 0.5, p[0], 1e-12)

	assert.Equal(t, -1, ArgMax(nil))
	assert.Equal(t, 0, ArgMax([]float64{2, 2}), "ties resolve to the first index")
}

func TestStats(t *testing.T) {
	assert.True(t, math.IsNaN(Mean(nil)))
	assert.InDelta(t, 2.0, Mean([]float64{1, 2, 3}), 1e-12)
	assert.InDelta(t, 2.5, Percentile([]float64{4, 1, 3, 2}, 50), 1e-12)
}
