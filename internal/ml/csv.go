package ml

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// BatchRow одна строка загруженного CSV
type BatchRow struct {
	Line     int
	Features []float64
	Label    *string // каноническая метка, nil если колонки нет или значение пустое
	Record   *string
}

type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

type Batch struct {
	Layout  Layout
	Rows    []BatchRow
	Skipped []RowError
}

func (b *Batch) HasLabels() bool { return b.Layout.LabelCol >= 0 }

func (b *Batch) HasRecords() bool { return b.Layout.RecordCol >= 0 }

// ReadBatch читает CSV с заголовком. Строки с нечисловыми признаками
// или некорректной меткой пропускаются с причиной.
func ReadBatch(r io.Reader, schema Schema) (*Batch, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file", ErrSchemaMismatch)
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	layout, err := schema.Bind(append([]string(nil), header...))
	if err != nil {
		return nil, err
	}

	w := schema.Width()
	batch := &Batch{Layout: layout}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				batch.Skipped = append(batch.Skipped, RowError{Line: line, Reason: perr.Err.Error()})
				continue
			}
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}

		row, reason := parseRow(record, w, layout)
		if reason != "" {
			batch.Skipped = append(batch.Skipped, RowError{Line: line, Reason: reason})
			continue
		}
		row.Line = line
		batch.Rows = append(batch.Rows, row)
	}
	return batch, nil
}

func parseRow(record []string, w int, layout Layout) (BatchRow, string) {
	if len(record) < w {
		return BatchRow{}, fmt.Sprintf("too short: %d", len(record))
	}

	features := make([]float64, w)
	for i := 0; i < w; i++ {
		f, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			return BatchRow{}, fmt.Sprintf("non-numeric feature %d: %q", i, record[i])
		}
		// ParseFloat принимает NaN и Inf
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return BatchRow{}, fmt.Sprintf("non-finite feature %d: %q", i, record[i])
		}
		features[i] = f
	}
	row := BatchRow{Features: features}

	if v := cell(record, layout.LabelCol); v != "" {
		canon, err := CanonicalLabel(v)
		if err != nil {
			return BatchRow{}, fmt.Sprintf("label error: %v", err)
		}
		row.Label = &canon
	}
	if v := cell(record, layout.RecordCol); v != "" {
		row.Record = &v
	}
	return row, ""
}

func cell(record []string, col int) string {
	if col < 0 || col >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[col])
}
