// Package ingest принимает удары ЭКГ с устройств по MQTT и классифицирует их
// пачками текущей моделью.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/inference"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/metrics"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/ml"
)

const (
	ingestUser = "mqtt-ingest"

	defaultBatchSize     = 32
	defaultFlushInterval = 500 * time.Millisecond
	defaultQueueSize     = 1000
)

var ErrBadMessage = errors.New("bad heartbeat message")

// Message полезная нагрузка топика medical/ecg/{record}/heartbeat
type Message struct {
	Record   string          `json:"record,omitempty"`
	Features []float64       `json:"features"`
	Type     json.RawMessage `json:"type,omitempty"`
}

// Scorer классифицирует разобранные строки
type Scorer interface {
	PredictRows(ctx context.Context, in inference.PredictInput, batch *ml.Batch) (*inference.PredictOutput, error)
}

type Options struct {
	ModelName     string
	Width         int
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
}

// Processor буферизует сообщения и отправляет их на классификацию пачками
type Processor struct {
	scorer Scorer
	opts   Options

	queue  chan ml.BatchRow
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	seq    int
	mu     sync.Mutex
}

func NewProcessor(scorer Scorer, opts Options) *Processor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.ModelName == "" {
		opts.ModelName = inference.LatestModel
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Processor{
		scorer: scorer,
		opts:   opts,
		queue:  make(chan ml.BatchRow, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

// Handle разбирает сообщение и ставит его в очередь, не блокируясь
func (p *Processor) Handle(topic string, payload []byte) error {
	row, err := p.parse(topic, payload)
	if err != nil {
		metrics.IngestMessages.WithLabelValues("rejected").Inc()
		slog.Warn("Heartbeat message rejected", "topic", topic, "error", err)
		return err
	}

	select {
	case p.queue <- row:
		return nil
	default:
		metrics.IngestMessages.WithLabelValues("dropped").Inc()
		slog.Warn("Ingest queue is full, message dropped", "topic", topic)
		return errors.New("ingest queue is full")
	}
}

func (p *Processor) parse(topic string, payload []byte) (ml.BatchRow, error) {
	// medical/ecg/{record}/heartbeat
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[3] != "heartbeat" {
		return ml.BatchRow{}, fmt.Errorf("%w: unexpected topic %q", ErrBadMessage, topic)
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return ml.BatchRow{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	record := strings.TrimSpace(msg.Record)
	if record == "" {
		record = parts[2]
	}
	if record == "" || record == "+" {
		return ml.BatchRow{}, fmt.Errorf("%w: no record id", ErrBadMessage)
	}
	if len(msg.Features) != p.opts.Width {
		return ml.BatchRow{}, fmt.Errorf("%w: got %d features, want %d", ErrBadMessage, len(msg.Features), p.opts.Width)
	}

	row := ml.BatchRow{Features: msg.Features, Record: &record}
	if len(msg.Type) > 0 && string(msg.Type) != "null" {
		label, err := ml.CanonicalLabel(strings.Trim(string(msg.Type), `"`))
		if err != nil {
			return ml.BatchRow{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
		}
		row.Label = &label
	}

	p.mu.Lock()
	p.seq++
	row.Line = p.seq
	p.mu.Unlock()
	return row, nil
}

func (p *Processor) worker() {
	defer p.wg.Done()

	buf := make([]ml.BatchRow, 0, p.opts.BatchSize)
	ticker := time.NewTicker(p.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case row := <-p.queue:
			buf = append(buf, row)
			if len(buf) >= p.opts.BatchSize {
				p.flush(buf)
				buf = buf[:0]
			}
		case <-ticker.C:
			if len(buf) > 0 {
				p.flush(buf)
				buf = buf[:0]
			}
		case <-p.ctx.Done():
			// дочитываем очередь
			for {
				select {
				case row := <-p.queue:
					buf = append(buf, row)
				default:
					if len(buf) > 0 {
						p.flush(buf)
					}
					return
				}
			}
		}
	}
}

func (p *Processor) flush(rows []ml.BatchRow) {
	batch := &ml.Batch{
		Layout: ml.Layout{LabelCol: -1, RecordCol: p.opts.Width},
		Rows:   append([]ml.BatchRow(nil), rows...),
	}
	// не от p.ctx: последняя пачка дописывается и после Stop
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := p.score(ctx, batch)
	if err == nil {
		return
	}
	if len(rows) == 1 || errors.Is(err, inference.ErrModelNotFound) {
		metrics.IngestMessages.WithLabelValues("error").Add(float64(len(rows)))
		slog.Error("Failed to score ingested heartbeats", "rows", len(rows), "error", err)
		return
	}

	// одна плохая строка не должна терять всю пачку
	slog.Warn("Batch scoring failed, retrying row by row", "rows", len(rows), "error", err)
	failed := 0
	for _, row := range rows {
		single := &ml.Batch{Layout: batch.Layout, Rows: []ml.BatchRow{row}}
		if err := p.score(ctx, single); err != nil {
			failed++
			metrics.IngestMessages.WithLabelValues("error").Inc()
			slog.Warn("Ingested heartbeat skipped", "record", deref(row.Record), "seq", row.Line, "error", err)
		}
	}
	if failed > 0 {
		slog.Error("Some ingested heartbeats were not scored", "failed", failed, "rows", len(rows))
	}
}

func (p *Processor) score(ctx context.Context, batch *ml.Batch) error {
	out, err := p.scorer.PredictRows(ctx, inference.PredictInput{
		UserID:    ingestUser,
		ModelName: p.opts.ModelName,
	}, batch)
	if err != nil {
		return err
	}
	metrics.IngestMessages.WithLabelValues("scored").Add(float64(len(out.Predictions)))
	if n := len(out.SkippedRows); n > 0 {
		metrics.IngestMessages.WithLabelValues("rejected").Add(float64(n))
	}
	slog.Debug("Ingested heartbeats scored", "rows", len(out.Predictions), "model", out.ModelUsed)
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Stop дожидается обработки уже принятых сообщений
func (p *Processor) Stop() {
	p.cancel()
	p.wg.Wait()
	slog.Info("Ingest processor stopped", "received", p.received())
}

func (p *Processor) received() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}
