package ml

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrSchemaMismatch = errors.New("csv header does not match feature schema")

const SchemaVersion = "v1"

// Schema описывает ожидаемые колонки загружаемого CSV
type Schema struct {
	Version  string   `json:"version"`
	Features []string `json:"features"`
	Label    string   `json:"label"`
	Record   string   `json:"record"`
}

func NewSchema(width int) Schema {
	features := make([]string, width)
	for i := range features {
		features[i] = strconv.Itoa(i)
	}
	return Schema{
		Version:  SchemaVersion,
		Features: features,
		Label:    "type",
		Record:   "record",
	}
}

func (s Schema) Width() int { return len(s.Features) }

// Layout позиции необязательных колонок, -1 если колонки нет
type Layout struct {
	LabelCol  int
	RecordCol int
}

// Bind сверяет заголовок со схемой
func (s Schema) Bind(header []string) (Layout, error) {
	w := s.Width()
	if len(header) < w {
		return Layout{}, fmt.Errorf("%w: got %d columns, want at least %d", ErrSchemaMismatch, len(header), w)
	}
	for i, name := range s.Features {
		if got := normalizeHeader(header[i]); got != name {
			return Layout{}, fmt.Errorf("%w: column %d is %q, want %q", ErrSchemaMismatch, i, got, name)
		}
	}

	layout := Layout{LabelCol: -1, RecordCol: -1}
	for i := w; i < len(header); i++ {
		switch name := normalizeHeader(header[i]); {
		case name == s.Label && i == w:
			layout.LabelCol = i
		case name == s.Record && layout.RecordCol < 0:
			layout.RecordCol = i
		default:
			return Layout{}, fmt.Errorf("%w: unexpected column %d %q", ErrSchemaMismatch, i, name)
		}
	}
	return layout, nil
}

func normalizeHeader(h string) string {
	return strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
}
