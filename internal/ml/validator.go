package ml

import (
	"errors"
	"fmt"
	"math"
)

var ErrNoValidData = errors.New("no valid heartbeats to train on")

// Verdict результат проверки одной записи
type Verdict struct {
	Include  bool
	Label    string
	Features []float64 // первые W значений
	Reasons  []string
}

// Row сырая запись удара из хранилища
type Row struct {
	ID       uint
	Features []float64 // nil если признаки в старой табличной схеме
	Label    *string
}

type Sample struct {
	ID       uint
	Features []float64
	Label    string
}

type Exclusion struct {
	HeartbeatID uint     `json:"heartbeat_id"`
	Reasons     []string `json:"reasons"`
}

// Validator проверяет ширину вектора признаков и метку класса.
// Допускается длина от W до W+2: хвост содержит метку и служебные поля.
type Validator struct {
	Width int
	Vocab *Vocabulary
}

func NewValidator(width int, vocab *Vocabulary) *Validator {
	return &Validator{Width: width, Vocab: vocab}
}

func (v *Validator) Check(features []float64, label *string) Verdict {
	if features == nil {
		return Verdict{Reasons: []string{"features not list"}}
	}

	var reasons []string
	n := len(features)
	switch {
	case n < v.Width:
		reasons = append(reasons, fmt.Sprintf("too short: %d", n))
	case n > v.Width+2:
		reasons = append(reasons, fmt.Sprintf("too long: %d", n))
	}
	if i := NonFinite(features[:min(n, v.Width)]); i >= 0 {
		reasons = append(reasons, fmt.Sprintf("non-finite feature %d", i))
	}

	var (
		canon string
		err   error
	)
	switch {
	case n > v.Width:
		canon, err = canonicalFromFloat(features[v.Width])
	case label != nil:
		canon, err = CanonicalLabel(*label)
	default:
		err = errors.New("missing label")
	}
	if err != nil {
		reasons = append(reasons, fmt.Sprintf("label error: %v", err))
	} else if _, ok := v.Vocab.Index(canon); !ok {
		reasons = append(reasons, fmt.Sprintf("invalid label: %s", canon))
	}

	if len(reasons) > 0 {
		return Verdict{Label: canon, Reasons: reasons}
	}
	return Verdict{
		Include:  true,
		Label:    canon,
		Features: features[:v.Width],
	}
}

// Filter прогоняет все записи через Check; исключения не прерывают пакет
func (v *Validator) Filter(rows []Row) ([]Sample, []Exclusion) {
	samples := make([]Sample, 0, len(rows))
	var excluded []Exclusion
	for _, r := range rows {
		verdict := v.Check(r.Features, r.Label)
		if !verdict.Include {
			excluded = append(excluded, Exclusion{HeartbeatID: r.ID, Reasons: verdict.Reasons})
			continue
		}
		samples = append(samples, Sample{ID: r.ID, Features: verdict.Features, Label: verdict.Label})
	}
	return samples, excluded
}

// NonFinite индекс первого NaN или Inf, -1 если все значения конечны
func NonFinite(features []float64) int {
	for i, f := range features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return i
		}
	}
	return -1
}
