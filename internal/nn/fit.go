package nn

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/utils"
)

// gradShards фиксированное число частей батча: сумма не зависит от числа CPU
const gradShards = 8

var ErrEmptyTrainingSet = errors.New("empty training set")

type Samples struct {
	X [][]float64
	Y []int
}

func (s Samples) Len() int { return len(s.Y) }

type FitConfig struct {
	Epochs    int
	BatchSize int
	Seed      int64
}

type EpochStats struct {
	Epoch       int      `json:"epoch"`
	Loss        float64  `json:"loss"`
	Accuracy    float64  `json:"accuracy"`
	ValLoss     *float64 `json:"val_loss,omitempty"`
	ValAccuracy *float64 `json:"val_accuracy,omitempty"`
}

type History []EpochStats

// Last статистика последней эпохи, nil для пустой истории
func (h History) Last() *EpochStats {
	if len(h) == 0 {
		return nil
	}
	return &h[len(h)-1]
}

// Fit обучает сеть мини-батчами; обучающие строки перемешиваются каждую эпоху
func (n *Network) Fit(ctx context.Context, train, val Samples, cfg FitConfig, opt *Adam) (History, error) {
	if train.Len() == 0 {
		return nil, ErrEmptyTrainingSet
	}
	if len(train.X) != train.Len() {
		return nil, fmt.Errorf("features/labels mismatch: %d vs %d", len(train.X), train.Len())
	}
	if cfg.Epochs < 1 {
		cfg.Epochs = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 32
	}
	if opt == nil {
		opt = NewAdam()
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	order := make([]int, train.Len())
	for i := range order {
		order[i] = i
	}

	params := n.params()
	total := n.newGrads()
	shards := make([][][]float64, gradShards)
	for i := range shards {
		shards[i] = n.newGrads()
	}

	history := make(History, 0, cfg.Epochs)
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var lossSum float64
		correct := 0
		for start := 0; start < len(order); start += cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return history, err
			}
			end := min(start+cfg.BatchSize, len(order))
			batch := order[start:end]

			loss, hits, err := n.batchGradients(ctx, train, batch, shards, total)
			if err != nil {
				return history, err
			}
			opt.Step(params, total, 1/float64(len(batch)))
			lossSum += loss
			correct += hits
		}

		stats := EpochStats{
			Epoch:    epoch,
			Loss:     lossSum / float64(train.Len()),
			Accuracy: float64(correct) / float64(train.Len()),
		}
		if val.Len() > 0 {
			vl, va, err := n.Evaluate(ctx, val)
			if err != nil {
				return history, err
			}
			stats.ValLoss, stats.ValAccuracy = &vl, &va
		}
		history = append(history, stats)
	}
	return history, nil
}

// batchGradients считает градиенты по частям батча параллельно и суммирует
// части в фиксированном порядке.
func (n *Network) batchGradients(ctx context.Context, data Samples, batch []int, shards [][][]float64, total [][]float64) (float64, int, error) {
	parts := min(gradShards, len(batch))
	losses := make([]float64, parts)
	hits := make([]int, parts)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for s := 0; s < parts; s++ {
		lo, hi := s*len(batch)/parts, (s+1)*len(batch)/parts
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			grads := shards[s]
			zero(grads)
			for _, i := range batch[lo:hi] {
				if len(data.X[i]) != n.Width {
					return fmt.Errorf("%w: sample %d has %d values", ErrInputWidth, i, len(data.X[i]))
				}
				y := data.Y[i]
				if y < 0 || y >= n.Classes {
					return fmt.Errorf("sample %d: class %d out of range", i, y)
				}
				tr := n.forward(data.X[i])
				losses[s] += crossEntropy(tr.probs, y)
				if utils.ArgMax(tr.probs) == y {
					hits[s]++
				}
				n.backward(tr, y, grads)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	zero(total)
	var loss float64
	correct := 0
	for s := 0; s < parts; s++ {
		for pi, gp := range shards[s] {
			t := total[pi]
			for j, v := range gp {
				t[j] += v
			}
		}
		loss += losses[s]
		correct += hits[s]
	}
	return loss, correct, nil
}

// Evaluate средняя кросс-энтропия и точность
func (n *Network) Evaluate(ctx context.Context, data Samples) (float64, float64, error) {
	if data.Len() == 0 {
		return 0, 0, nil
	}
	probs, err := n.PredictBatch(ctx, data.X)
	if err != nil {
		return 0, 0, err
	}
	var loss float64
	correct := 0
	for i, p := range probs {
		loss += crossEntropy(p, data.Y[i])
		if utils.ArgMax(p) == data.Y[i] {
			correct++
		}
	}
	n64 := float64(data.Len())
	return loss / n64, float64(correct) / n64, nil
}

func zero(g [][]float64) {
	for _, p := range g {
		clear(p)
	}
}
