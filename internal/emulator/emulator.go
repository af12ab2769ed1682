// Package emulator проигрывает CSV с ударами как поток ЭКГ-монитора по MQTT.
// Используется для проверки ingest без реального оборудования.
package emulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/ingest"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/ml"
)

const defaultRecord = "emulator"

var ErrNoBeats = errors.New("no heartbeats to replay")

// Publisher отправляет одно сообщение в топик
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

type Options struct {
	Width    int
	Record   string // запись по умолчанию, если в CSV нет колонки record
	Interval time.Duration
	Loop     bool
}

type Stats struct {
	Sent    int
	Failed  int
	Skipped int
}

// Topic топик удара для записи
func Topic(record string) string {
	return fmt.Sprintf("medical/ecg/%s/heartbeat", record)
}

// Play читает CSV и публикует каждый удар. С Loop повторяет до отмены ctx.
func Play(ctx context.Context, r io.Reader, pub Publisher, opts Options) (Stats, error) {
	if opts.Record == "" {
		opts.Record = defaultRecord
	}
	batch, err := ml.ReadBatch(r, ml.NewSchema(opts.Width))
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Skipped: len(batch.Skipped)}
	for _, s := range batch.Skipped {
		slog.Warn("Heartbeat row skipped", "line", s.Line, "reason", s.Reason)
	}
	if len(batch.Rows) == 0 {
		return stats, ErrNoBeats
	}

	for pass := 1; ; pass++ {
		for i, row := range batch.Rows {
			if err := ctx.Err(); err != nil {
				return stats, nil
			}
			topic, payload, err := encode(row, opts.Record)
			if err != nil {
				return stats, err
			}
			if err := pub.Publish(ctx, topic, payload); err != nil {
				stats.Failed++
				slog.Warn("Failed to publish heartbeat", "topic", topic, "line", row.Line, "error", err)
			} else {
				stats.Sent++
			}
			if i < len(batch.Rows)-1 || opts.Loop {
				if !sleep(ctx, opts.Interval) {
					return stats, nil
				}
			}
		}
		slog.Info("Replay pass finished", "pass", pass, "sent", stats.Sent, "failed", stats.Failed)
		if !opts.Loop {
			return stats, nil
		}
	}
}

func encode(row ml.BatchRow, fallback string) (string, []byte, error) {
	record := fallback
	if row.Record != nil {
		record = *row.Record
	}
	msg := ingest.Message{Record: record, Features: row.Features}
	if row.Label != nil {
		raw, err := json.Marshal(*row.Label)
		if err != nil {
			return "", nil, err
		}
		msg.Type = raw
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", nil, fmt.Errorf("encode heartbeat line %d: %w", row.Line, err)
	}
	return Topic(record), payload, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
