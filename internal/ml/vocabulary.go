package ml

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrEmptyVocabulary = errors.New("label vocabulary is empty")

// Vocabulary связывает метки классов ("0".."4") с индексами выхода сети
// и с отображаемыми именами.
type Vocabulary struct {
	labels []string
	names  []string
	index  map[string]int
}

func NewVocabulary(labels, names []string) (*Vocabulary, error) {
	if len(labels) == 0 {
		return nil, ErrEmptyVocabulary
	}
	if len(names) != 0 && len(names) != len(labels) {
		return nil, fmt.Errorf("label names: got %d names for %d labels", len(names), len(labels))
	}

	v := &Vocabulary{
		labels: make([]string, len(labels)),
		names:  make([]string, len(labels)),
		index:  make(map[string]int, len(labels)),
	}
	for i, l := range labels {
		canon, err := CanonicalLabel(l)
		if err != nil {
			return nil, fmt.Errorf("label %q: %w", l, err)
		}
		if _, dup := v.index[canon]; dup {
			return nil, fmt.Errorf("duplicate label %q", canon)
		}
		v.labels[i] = canon
		v.index[canon] = i
		v.names[i] = canon
		if len(names) != 0 {
			v.names[i] = names[i]
		}
	}
	return v, nil
}

func (v *Vocabulary) Len() int { return len(v.labels) }

func (v *Vocabulary) Labels() []string { return append([]string(nil), v.labels...) }

func (v *Vocabulary) Names() []string { return append([]string(nil), v.names...) }

// Index возвращает индекс канонической метки
func (v *Vocabulary) Index(label string) (int, bool) {
	i, ok := v.index[label]
	return i, ok
}

func (v *Vocabulary) Label(i int) string { return v.labels[i] }

func (v *Vocabulary) Name(i int) string { return v.names[i] }

// NameOf отображаемое имя канонической метки, сама метка если она неизвестна
func (v *Vocabulary) NameOf(label string) string {
	if i, ok := v.index[label]; ok {
		return v.names[i]
	}
	return label
}

// AbnormalNames все имена кроме нормального класса
func (v *Vocabulary) AbnormalNames(normal string) []string {
	out := make([]string, 0, len(v.names))
	for _, n := range v.names {
		if n != normal {
			out = append(out, n)
		}
	}
	return out
}

// CanonicalLabel приводит метку к строке целого числа: "1.0" -> "1", " 2 " -> "2".
func CanonicalLabel(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.New("empty label")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", fmt.Errorf("not a number: %q", s)
	}
	return canonicalFromFloat(f)
}

func canonicalFromFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("not finite: %v", f)
	}
	if f != math.Trunc(f) {
		return "", fmt.Errorf("not an integer: %v", f)
	}
	return strconv.FormatInt(int64(f), 10), nil
}
