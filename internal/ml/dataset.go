package ml

import "fmt"

// Dataset обучающая выборка: X строки x W (один канал), Y индексы классов
type Dataset struct {
	X     [][]float64
	Y     []int
	IDs   []uint
	Width int
}

func (d *Dataset) Len() int { return len(d.Y) }

// Assemble собирает выборку из прошедших проверку записей, сохраняя порядок
func Assemble(samples []Sample, width int, vocab *Vocabulary) (*Dataset, error) {
	if len(samples) == 0 {
		return nil, ErrNoValidData
	}

	ds := &Dataset{
		X:     make([][]float64, 0, len(samples)),
		Y:     make([]int, 0, len(samples)),
		IDs:   make([]uint, 0, len(samples)),
		Width: width,
	}
	for _, s := range samples {
		if len(s.Features) < width {
			return nil, fmt.Errorf("sample %d: %d features, want %d", s.ID, len(s.Features), width)
		}
		idx, ok := vocab.Index(s.Label)
		if !ok {
			return nil, fmt.Errorf("sample %d: invalid label %q", s.ID, s.Label)
		}
		x := make([]float64, width)
		copy(x, s.Features[:width])
		ds.X = append(ds.X, x)
		ds.Y = append(ds.Y, idx)
		ds.IDs = append(ds.IDs, s.ID)
	}
	return ds, nil
}

// Split делит выборку: последние frac строк идут в валидацию
func (d *Dataset) Split(frac float64) (train, val *Dataset) {
	n := d.Len()
	nVal := int(float64(n) * frac)
	if frac > 0 && nVal == 0 && n > 1 {
		nVal = 1
	}
	cut := n - nVal
	train = &Dataset{X: d.X[:cut], Y: d.Y[:cut], IDs: d.IDs[:cut], Width: d.Width}
	val = &Dataset{X: d.X[cut:], Y: d.Y[cut:], IDs: d.IDs[cut:], Width: d.Width}
	return train, val
}
