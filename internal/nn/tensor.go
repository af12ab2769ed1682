// Package nn реализует сверточно-рекуррентный классификатор ударов:
// прямой и обратный проход, оптимизатор Adam и сериализацию весов.
package nn

import (
	"math"
	"math/rand"
)

// Tensor последовательность T шагов по C каналов, построчно
type Tensor struct {
	T, C int
	Data []float64
}

func newTensor(t, c int) Tensor {
	return Tensor{T: t, C: c, Data: make([]float64, t*c)}
}

func (x Tensor) row(t int) []float64 {
	return x.Data[t*x.C : (t+1)*x.C]
}

// Param именованный массив весов
type Param struct {
	Name string
	Data []float64
}

func newParam(name string, n int) Param {
	return Param{Name: name, Data: make([]float64, n)}
}

// glorotUniform заполняет p равномерно в [-limit, limit], limit = sqrt(6/(fanIn+fanOut))
func glorotUniform(p []float64, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range p {
		p[i] = (rng.Float64()*2 - 1) * limit
	}
}
