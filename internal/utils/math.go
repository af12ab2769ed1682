package utils

import (
	"math"
	"sort"
)

// Mean вычисляет среднее значение
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return math.NaN()
	}

	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// Percentile вычисляет процентиль массива с линейной интерполяцией
func Percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return math.NaN()
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	index := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// ArgMax возвращает индекс первого максимума, -1 для пустого среза
func ArgMax(data []float64) int {
	if len(data) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(data); i++ {
		if data[i] > data[best] {
			best = i
		}
	}
	return best
}

// Softmax численно устойчивый softmax; результат пишется в dst
func Softmax(dst, logits []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(logits))
	}
	if len(logits) == 0 {
		return dst
	}
	maxV := logits[0]
	for _, v := range logits[1:] {
		if v > maxV {
			maxV = v
		}
	}
	sum := 0.0
	for i, v := range logits {
		dst[i] = math.Exp(v - maxV)
		sum += dst[i]
	}
	for i := range dst {
		dst[i] /= sum
	}
	return dst
}

func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
