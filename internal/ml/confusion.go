package ml

import "sort"

// ConfusionMatrix строит матрицу ошибок по отсортированному объединению
// наблюдаемых меток: строки истинные, столбцы предсказанные.
func ConfusionMatrix(truth, pred []int) ([]int, [][]int) {
	seen := make(map[int]struct{}, 8)
	for _, v := range truth {
		seen[v] = struct{}{}
	}
	for _, v := range pred {
		seen[v] = struct{}{}
	}
	labels := make([]int, 0, len(seen))
	for v := range seen {
		labels = append(labels, v)
	}
	sort.Ints(labels)

	pos := make(map[int]int, len(labels))
	for i, l := range labels {
		pos[l] = i
	}
	matrix := make([][]int, len(labels))
	for i := range matrix {
		matrix[i] = make([]int, len(labels))
	}
	for i := range truth {
		if i >= len(pred) {
			break
		}
		matrix[pos[truth[i]]][pos[pred[i]]]++
	}
	return labels, matrix
}

func Accuracy(truth, pred []int) float64 {
	n := min(len(truth), len(pred))
	if n == 0 {
		return 0
	}
	hit := 0
	for i := 0; i < n; i++ {
		if truth[i] == pred[i] {
			hit++
		}
	}
	return float64(hit) / float64(n)
}
