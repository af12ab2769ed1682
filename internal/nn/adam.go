package nn

import "math"

// Adam оптимизатор с параметрами по умолчанию Keras
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	step int
	m, v [][]float64
}

func NewAdam() *Adam {
	return &Adam{
		LearningRate: 1e-3,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
	}
}

// Step применяет градиенты, умноженные на scale (1/размер батча)
func (a *Adam) Step(params []*Param, grads [][]float64, scale float64) {
	if a.m == nil {
		a.m = make([][]float64, len(params))
		a.v = make([][]float64, len(params))
		for i, p := range params {
			a.m[i] = make([]float64, len(p.Data))
			a.v[i] = make([]float64, len(p.Data))
		}
	}

	a.step++
	c1 := 1 - math.Pow(a.Beta1, float64(a.step))
	c2 := 1 - math.Pow(a.Beta2, float64(a.step))
	lr := a.LearningRate * math.Sqrt(c2) / c1

	for i, p := range params {
		m, v, g := a.m[i], a.v[i], grads[i]
		for j := range p.Data {
			gj := g[j] * scale
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*gj
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*gj*gj
			p.Data[j] -= lr * m[j] / (math.Sqrt(v[j]) + a.Epsilon)
		}
	}
}
