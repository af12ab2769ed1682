package nn

import "math/rand"

const (
	ActivationLinear = "linear"
	ActivationReLU   = "relu"
)

// Dense полносвязный слой, веса [In][Out]
type Dense struct {
	In, Out    int
	Activation string
	W, B       Param
}

func newDense(name string, in, out int, activation string, rng *rand.Rand) *Dense {
	d := &Dense{
		In:         in,
		Out:        out,
		Activation: activation,
		W:          newParam(name+"/kernel", in*out),
		B:          newParam(name+"/bias", out),
	}
	glorotUniform(d.W.Data, in, out, rng)
	return d
}

func (d *Dense) Forward(x []float64) []float64 {
	out := make([]float64, d.Out)
	copy(out, d.B.Data)
	for i, xv := range x {
		w := d.W.Data[i*d.Out : (i+1)*d.Out]
		for j := range out {
			out[j] += xv * w[j]
		}
	}
	if d.Activation == ActivationReLU {
		for j := range out {
			if out[j] < 0 {
				out[j] = 0
			}
		}
	}
	return out
}

func (d *Dense) Backward(x, out, dOut, gW, gB []float64) []float64 {
	dz := dOut
	if d.Activation == ActivationReLU {
		dz = make([]float64, len(dOut))
		for j := range dOut {
			if out[j] > 0 {
				dz[j] = dOut[j]
			}
		}
	}
	for j, v := range dz {
		gB[j] += v
	}
	dx := make([]float64, d.In)
	for i, xv := range x {
		w, g := d.W.Data[i*d.Out:(i+1)*d.Out], gW[i*d.Out:(i+1)*d.Out]
		s := 0.0
		for j, v := range dz {
			g[j] += xv * v
			s += w[j] * v
		}
		dx[i] = s
	}
	return dx
}
