package nn

import (
	"math"
	"math/rand"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/utils"
)

// LSTM возвращает только последнее скрытое состояние.
// Порядок гейтов в весах: input, forget, cell, output.
type LSTM struct {
	In, Units               int
	Kernel, Recurrent, Bias Param
}

type lstmCache struct {
	x     Tensor
	h, c  [][]float64 // T+1 состояний, h[0] и c[0] нулевые
	gates [][]float64 // T x 4H после активаций
}

func newLSTM(name string, in, units int, rng *rand.Rand) *LSTM {
	g := 4 * units
	l := &LSTM{
		In:        in,
		Units:     units,
		Kernel:    newParam(name+"/kernel", in*g),
		Recurrent: newParam(name+"/recurrent_kernel", units*g),
		Bias:      newParam(name+"/bias", g),
	}
	glorotUniform(l.Kernel.Data, in, g, rng)
	glorotUniform(l.Recurrent.Data, units, g, rng)
	for j := units; j < 2*units; j++ {
		l.Bias.Data[j] = 1 // forget gate
	}
	return l
}

func (l *LSTM) Forward(x Tensor) ([]float64, lstmCache) {
	h, g := l.Units, 4*l.Units
	cache := lstmCache{
		x:     x,
		h:     make([][]float64, x.T+1),
		c:     make([][]float64, x.T+1),
		gates: make([][]float64, x.T),
	}
	cache.h[0] = make([]float64, h)
	cache.c[0] = make([]float64, h)

	for t := 0; t < x.T; t++ {
		z := make([]float64, g)
		copy(z, l.Bias.Data)
		for d, xv := range x.row(t) {
			w := l.Kernel.Data[d*g : (d+1)*g]
			for j := range z {
				z[j] += xv * w[j]
			}
		}
		for k, hv := range cache.h[t] {
			if hv == 0 {
				continue
			}
			w := l.Recurrent.Data[k*g : (k+1)*g]
			for j := range z {
				z[j] += hv * w[j]
			}
		}

		nh, nc := make([]float64, h), make([]float64, h)
		prevC := cache.c[t]
		for j := 0; j < h; j++ {
			i := utils.Sigmoid(z[j])
			f := utils.Sigmoid(z[h+j])
			cc := math.Tanh(z[2*h+j])
			o := utils.Sigmoid(z[3*h+j])
			z[j], z[h+j], z[2*h+j], z[3*h+j] = i, f, cc, o

			nc[j] = f*prevC[j] + i*cc
			nh[j] = o * math.Tanh(nc[j])
		}
		cache.gates[t] = z
		cache.h[t+1] = nh
		cache.c[t+1] = nc
	}
	return cache.h[x.T], cache
}

// Backward полный проход во времени от градиента последнего состояния
func (l *LSTM) Backward(cache lstmCache, dLast []float64, gKernel, gRecurrent, gBias []float64) Tensor {
	h, g := l.Units, 4*l.Units
	x := cache.x
	dx := newTensor(x.T, x.C)

	dh := append([]float64(nil), dLast...)
	dc := make([]float64, h)
	dz := make([]float64, g)

	for t := x.T - 1; t >= 0; t-- {
		gates := cache.gates[t]
		cPrev, cCur := cache.c[t], cache.c[t+1]
		for j := 0; j < h; j++ {
			i, f, cc, o := gates[j], gates[h+j], gates[2*h+j], gates[3*h+j]
			tc := math.Tanh(cCur[j])

			dO := dh[j] * tc
			dc[j] += dh[j] * o * (1 - tc*tc)

			dz[j] = dc[j] * cc * i * (1 - i)
			dz[h+j] = dc[j] * cPrev[j] * f * (1 - f)
			dz[2*h+j] = dc[j] * i * (1 - cc*cc)
			dz[3*h+j] = dO * o * (1 - o)

			dc[j] *= f
		}

		for j, v := range dz {
			gBias[j] += v
		}
		dxr := dx.row(t)
		for d, xv := range x.row(t) {
			w, gw := l.Kernel.Data[d*g:(d+1)*g], gKernel[d*g:(d+1)*g]
			s := 0.0
			for j, v := range dz {
				gw[j] += xv * v
				s += w[j] * v
			}
			dxr[d] = s
		}
		hPrev := cache.h[t]
		for k := 0; k < h; k++ {
			w, gw := l.Recurrent.Data[k*g:(k+1)*g], gRecurrent[k*g:(k+1)*g]
			s := 0.0
			for j, v := range dz {
				gw[j] += hPrev[k] * v
				s += w[j] * v
			}
			dh[k] = s
		}
	}
	return dx
}
