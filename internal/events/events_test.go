package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/config"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	w := &recordingWriter{}
	p := NewKafkaPublisher(w)

	err := p.Publish(context.Background(), Event{
		Type:    TypeModelRetrained,
		Key:     "1.3",
		Payload: map[string]any{"version": "1.3"},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "1.3", string(msg.Key))
	assert.Equal(t, TypeModelRetrained, string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, TypeModelRetrained, decoded.Type)
	assert.False(t, decoded.OccurredAt.IsZero())
}

func TestKafkaPublisherError(t *testing.T) {
	p := NewKafkaPublisher(&recordingWriter{err: errors.New("broker down")})
	err := p.Publish(context.Background(), Event{Type: TypePredictionsScore})
	assert.ErrorContains(t, err, "broker down")
}

func TestNewWithoutBrokersIsNop(t *testing.T) {
	p := New(config.KafkaConfig{})
	assert.IsType(t, Nop{}, p)
	assert.NoError(t, p.Publish(context.Background(), Event{}))
}
