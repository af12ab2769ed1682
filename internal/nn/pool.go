package nn

// MaxPool1D максимум по окнам Size без перекрытия, хвост отбрасывается
type MaxPool1D struct {
	Size int
}

type poolCache struct {
	inT, inC int
	argmax   []int
}

func (p MaxPool1D) Forward(x Tensor) (Tensor, poolCache) {
	out := newTensor(x.T/p.Size, x.C)
	arg := make([]int, len(out.Data))
	for t := 0; t < out.T; t++ {
		for c := 0; c < x.C; c++ {
			best := (t*p.Size)*x.C + c
			for k := 1; k < p.Size; k++ {
				if i := (t*p.Size+k)*x.C + c; x.Data[i] > x.Data[best] {
					best = i
				}
			}
			out.Data[t*x.C+c] = x.Data[best]
			arg[t*x.C+c] = best
		}
	}
	return out, poolCache{inT: x.T, inC: x.C, argmax: arg}
}

func (p MaxPool1D) Backward(cache poolCache, dOut Tensor) Tensor {
	dx := newTensor(cache.inT, cache.inC)
	for i, src := range cache.argmax {
		dx.Data[src] += dOut.Data[i]
	}
	return dx
}
