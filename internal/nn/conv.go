package nn

import "math/rand"

// Conv1D свертка без паддинга с активацией ReLU.
// Ядро хранится как [Kernel][In][Filters].
type Conv1D struct {
	In, Filters, Kernel int
	W, B                Param
}

type convCache struct {
	x, out Tensor
}

func newConv1D(name string, in, filters, kernel int, rng *rand.Rand) *Conv1D {
	c := &Conv1D{
		In:      in,
		Filters: filters,
		Kernel:  kernel,
		W:       newParam(name+"/kernel", kernel*in*filters),
		B:       newParam(name+"/bias", filters),
	}
	glorotUniform(c.W.Data, kernel*in, kernel*filters, rng)
	return c
}

func (c *Conv1D) outLen(t int) int { return t - c.Kernel + 1 }

func (c *Conv1D) Forward(x Tensor) (Tensor, convCache) {
	f := c.Filters
	out := newTensor(c.outLen(x.T), f)
	for t := 0; t < out.T; t++ {
		o := out.row(t)
		copy(o, c.B.Data)
		for k := 0; k < c.Kernel; k++ {
			for ci, xv := range x.row(t + k) {
				if xv == 0 {
					continue
				}
				base := (k*c.In + ci) * f
				w := c.W.Data[base : base+f]
				for j := range o {
					o[j] += xv * w[j]
				}
			}
		}
		for j := range o {
			if o[j] < 0 {
				o[j] = 0
			}
		}
	}
	return out, convCache{x: x, out: out}
}

func (c *Conv1D) Backward(cache convCache, dOut Tensor, gW, gB []float64) Tensor {
	f := c.Filters
	x := cache.x
	dx := newTensor(x.T, x.C)
	dz := make([]float64, f)
	for t := 0; t < cache.out.T; t++ {
		out, d := cache.out.row(t), dOut.row(t)
		for j := range dz {
			if out[j] > 0 {
				dz[j] = d[j]
			} else {
				dz[j] = 0
			}
			gB[j] += dz[j]
		}
		for k := 0; k < c.Kernel; k++ {
			xr, dxr := x.row(t+k), dx.row(t+k)
			for ci, xv := range xr {
				base := (k*c.In + ci) * f
				w, g := c.W.Data[base:base+f], gW[base:base+f]
				s := 0.0
				for j, dj := range dz {
					g[j] += xv * dj
					s += w[j] * dj
				}
				dxr[ci] += s
			}
		}
	}
	return dx
}
