package nn

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/utils"
)

const (
	conv1Filters = 32
	conv2Filters = 64
	kernelSize   = 5
	poolSize     = 2
	lstmUnits    = 64
	hiddenUnits  = 64
)

var ErrInputWidth = errors.New("input width does not match network")

// Network Conv1D(32,5) -> MaxPool(2) -> Conv1D(64,5) -> MaxPool(2) -> LSTM(64) -> Dense(64) -> Dense(classes) + softmax
type Network struct {
	Width   int
	Classes int

	conv1  *Conv1D
	conv2  *Conv1D
	pool   MaxPool1D
	lstm   *LSTM
	hidden *Dense
	output *Dense
}

// MinWidth минимальная длина входа, при которой до LSTM доходит хотя бы один шаг
func MinWidth() int {
	t := 1
	t = t*poolSize + kernelSize - 1
	t = t*poolSize + kernelSize - 1
	return t
}

// BuildCNNLSTM создает сеть со случайными весами, детерминированными по seed
func BuildCNNLSTM(width, classes int, seed int64) (*Network, error) {
	if width < MinWidth() {
		return nil, fmt.Errorf("width %d is below minimum %d", width, MinWidth())
	}
	if classes < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", classes)
	}

	rng := rand.New(rand.NewSource(seed))
	return &Network{
		Width:   width,
		Classes: classes,
		conv1:   newConv1D("conv1d", 1, conv1Filters, kernelSize, rng),
		conv2:   newConv1D("conv1d_1", conv1Filters, conv2Filters, kernelSize, rng),
		pool:    MaxPool1D{Size: poolSize},
		lstm:    newLSTM("lstm", conv2Filters, lstmUnits, rng),
		hidden:  newDense("dense", lstmUnits, hiddenUnits, ActivationReLU, rng),
		output:  newDense("dense_1", hiddenUnits, classes, ActivationLinear, rng),
	}, nil
}

// params порядок совпадает с порядком буферов градиента
func (n *Network) params() []*Param {
	return []*Param{
		&n.conv1.W, &n.conv1.B,
		&n.conv2.W, &n.conv2.B,
		&n.lstm.Kernel, &n.lstm.Recurrent, &n.lstm.Bias,
		&n.hidden.W, &n.hidden.B,
		&n.output.W, &n.output.B,
	}
}

// ParamCount общее число обучаемых весов
func (n *Network) ParamCount() int {
	total := 0
	for _, p := range n.params() {
		total += len(p.Data)
	}
	return total
}

func (n *Network) newGrads() [][]float64 {
	ps := n.params()
	g := make([][]float64, len(ps))
	for i, p := range ps {
		g[i] = make([]float64, len(p.Data))
	}
	return g
}

type trace struct {
	c1     convCache
	p1     poolCache
	c2     convCache
	p2     poolCache
	lstm   lstmCache
	last   []float64
	hidden []float64
	probs  []float64
}

func (n *Network) forward(x []float64) *trace {
	in := Tensor{T: len(x), C: 1, Data: x}
	tr := &trace{}

	a, c1 := n.conv1.Forward(in)
	a, p1 := n.pool.Forward(a)
	a, c2 := n.conv2.Forward(a)
	a, p2 := n.pool.Forward(a)
	last, lc := n.lstm.Forward(a)
	hidden := n.hidden.Forward(last)
	logits := n.output.Forward(hidden)

	tr.c1, tr.p1, tr.c2, tr.p2, tr.lstm = c1, p1, c2, p2, lc
	tr.last, tr.hidden = last, hidden
	tr.probs = utils.Softmax(nil, logits)
	return tr
}

// backward накапливает градиенты кросс-энтропии для метки y
func (n *Network) backward(tr *trace, y int, g [][]float64) {
	dLogits := append([]float64(nil), tr.probs...)
	dLogits[y] -= 1

	dHidden := n.output.Backward(tr.hidden, nil, dLogits, g[9], g[10])
	dLast := n.hidden.Backward(tr.last, tr.hidden, dHidden, g[7], g[8])
	d := n.lstm.Backward(tr.lstm, dLast, g[4], g[5], g[6])
	d = n.pool.Backward(tr.p2, d)
	d = n.conv2.Backward(tr.c2, d, g[2], g[3])
	d = n.pool.Backward(tr.p1, d)
	n.conv1.Backward(tr.c1, d, g[0], g[1])
}

func crossEntropy(probs []float64, y int) float64 {
	return -math.Log(math.Max(probs[y], 1e-12))
}

// Predict вероятности классов для одного вектора признаков
func (n *Network) Predict(x []float64) ([]float64, error) {
	if len(x) != n.Width {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInputWidth, len(x), n.Width)
	}
	return n.forward(x).probs, nil
}

// PredictBatch считает строки параллельно, порядок результата совпадает с входом
func (n *Network) PredictBatch(ctx context.Context, xs [][]float64) ([][]float64, error) {
	out := make([][]float64, len(xs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, x := range xs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := n.Predict(x)
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
