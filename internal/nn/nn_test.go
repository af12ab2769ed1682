package nn

import (
	"bytes"
	"context"
	"encoding/gob"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gradEps = 1e-5

func randomInput(rng *rand.Rand, n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = rng.Float64()
	}
	return x
}

// assertGradClose сравнивает аналитический градиент с центральной разностью
func assertGradClose(t *testing.T, name string, analytic, numeric float64) {
	t.Helper()
	diff := math.Abs(analytic - numeric)
	scale := math.Max(1e-6, math.Abs(analytic)+math.Abs(numeric))
	assert.Truef(t, diff < 1e-6 || diff/scale < 1e-4,
		"%s: analytic %.8g numeric %.8g", name, analytic, numeric)
}

func TestMinWidth(t *testing.T) {
	assert.Equal(t, 16, MinWidth())

	_, err := BuildCNNLSTM(15, 5, 1)
	assert.Error(t, err)
	_, err = BuildCNNLSTM(187, 1, 1)
	assert.Error(t, err)
}

func TestNetworkShape(t *testing.T) {
	n, err := BuildCNNLSTM(187, 5, 42)
	require.NoError(t, err)

	// conv 192 + conv 10304 + lstm 33024 + dense 4160 + dense 325
	assert.Equal(t, 48005, n.ParamCount())

	p, err := n.Predict(make([]float64, 187))
	require.NoError(t, err)
	require.Len(t, p, 5)
	sum := 0.0
	for _, v := range p {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	_, err = n.Predict(make([]float64, 10))
	assert.ErrorIs(t, err, ErrInputWidth)
}

func TestForgetGateBias(t *testing.T) {
	n, err := BuildCNNLSTM(20, 3, 1)
	require.NoError(t, err)
	b := n.lstm.Bias.Data
	for j := 0; j < lstmUnits; j++ {
		assert.Equal(t, 0.0, b[j])
		assert.Equal(t, 1.0, b[lstmUnits+j])
	}
}

func TestLSTMGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	l := newLSTM("lstm", 3, 4, rng)
	x := Tensor{T: 5, C: 3, Data: randomInput(rng, 15)}
	w := randomInput(rng, 4)

	loss := func() float64 {
		h, _ := l.Forward(x)
		s := 0.0
		for i, v := range h {
			s += v * w[i]
		}
		return s
	}

	gK := make([]float64, len(l.Kernel.Data))
	gR := make([]float64, len(l.Recurrent.Data))
	gB := make([]float64, len(l.Bias.Data))
	_, cache := l.Forward(x)
	dx := l.Backward(cache, w, gK, gR, gB)

	check := func(name string, p, g []float64) {
		for _, i := range []int{0, len(p) / 3, len(p) / 2, len(p) - 1} {
			orig := p[i]
			p[i] = orig + gradEps
			up := loss()
			p[i] = orig - gradEps
			down := loss()
			p[i] = orig
			assertGradClose(t, name, g[i], (up-down)/(2*gradEps))
		}
	}
	check("kernel", l.Kernel.Data, gK)
	check("recurrent", l.Recurrent.Data, gR)
	check("bias", l.Bias.Data, gB)
	check("input", x.Data, dx.Data)
}

func TestNetworkGradient(t *testing.T) {
	n, err := BuildCNNLSTM(20, 3, 3)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(11))
	x := randomInput(rng, 20)
	y := 1

	grads := n.newGrads()
	n.backward(n.forward(x), y, grads)

	loss := func() float64 { return crossEntropy(n.forward(x).probs, y) }
	for pi, p := range n.params() {
		for _, i := range []int{0, len(p.Data) / 2, len(p.Data) - 1} {
			orig := p.Data[i]
			p.Data[i] = orig + gradEps
			up := loss()
			p.Data[i] = orig - gradEps
			down := loss()
			p.Data[i] = orig
			assertGradClose(t, p.Name, grads[pi][i], (up-down)/(2*gradEps))
		}
	}
}

func toySamples(n, width int) Samples {
	var s Samples
	for i := 0; i < n; i++ {
		x := make([]float64, width)
		y := i % 2
		for j := range x {
			v := math.Sin(float64(j) / 3)
			if y == 1 {
				v = -v
			}
			x[j] = v
		}
		s.X = append(s.X, x)
		s.Y = append(s.Y, y)
	}
	return s
}

func TestFitReducesLoss(t *testing.T) {
	n, err := BuildCNNLSTM(20, 2, 5)
	require.NoError(t, err)

	data := toySamples(16, 20)
	hist, err := n.Fit(context.Background(), data, toySamples(4, 20), FitConfig{Epochs: 15, BatchSize: 4, Seed: 1}, nil)
	require.NoError(t, err)
	require.Len(t, hist, 15)
	assert.Less(t, hist.Last().Loss, hist[0].Loss)
	require.NotNil(t, hist.Last().ValAccuracy)
}

func TestFitIsDeterministic(t *testing.T) {
	data := toySamples(12, 20)
	cfg := FitConfig{Epochs: 2, BatchSize: 5, Seed: 9}

	a, err := BuildCNNLSTM(20, 2, 5)
	require.NoError(t, err)
	b, err := BuildCNNLSTM(20, 2, 5)
	require.NoError(t, err)

	_, err = a.Fit(context.Background(), data, Samples{}, cfg, nil)
	require.NoError(t, err)
	_, err = b.Fit(context.Background(), data, Samples{}, cfg, nil)
	require.NoError(t, err)

	for i, p := range a.params() {
		assert.Equal(t, p.Data, b.params()[i].Data, p.Name)
	}
}

func TestFitHonoursContext(t *testing.T) {
	n, err := BuildCNNLSTM(20, 2, 5)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = n.Fit(ctx, toySamples(4, 20), Samples{}, FitConfig{Epochs: 1, BatchSize: 2}, nil)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = n.Fit(context.Background(), Samples{}, Samples{}, FitConfig{}, nil)
	assert.ErrorIs(t, err, ErrEmptyTrainingSet)
}

func TestPredictBatchMatchesPredict(t *testing.T) {
	n, err := BuildCNNLSTM(20, 3, 2)
	require.NoError(t, err)
	data := toySamples(6, 20)

	batch, err := n.PredictBatch(context.Background(), data.X)
	require.NoError(t, err)
	for i, x := range data.X {
		p, err := n.Predict(x)
		require.NoError(t, err)
		assert.Equal(t, p, batch[i])
	}
}

func TestSaveLoad(t *testing.T) {
	n, err := BuildCNNLSTM(24, 5, 8)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, n.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, 24, loaded.Width)
	assert.Equal(t, 5, loaded.Classes)

	x := toySamples(1, 24).X[0]
	want, err := n.Predict(x)
	require.NoError(t, err)
	got, err := loaded.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadRejectsForeignFiles(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("not a model")))
	assert.ErrorIs(t, err, ErrBadFormat)

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(&snapshot{Format: "other", Version: 1}))
	_, err = Load(&buf)
	assert.ErrorIs(t, err, ErrBadFormat)
}
