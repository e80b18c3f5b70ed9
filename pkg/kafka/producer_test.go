package kafka

import (
	"context"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCompressionFromString(t *testing.T) {
	assert.Equal(t, kafkago.Gzip, CompressionFromString("GZIP"))
	assert.Equal(t, kafkago.Lz4, CompressionFromString("lz4"))
	assert.Equal(t, kafkago.Zstd, CompressionFromString(" zstd "))
	assert.Equal(t, kafkago.Compression(0), CompressionFromString("none"))
	assert.Equal(t, kafkago.Snappy, CompressionFromString("unknown"))
}

func TestNewProducerAppliesConfig(t *testing.T) {
	p := NewProducer(ProducerConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "thumbflow.events",
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafkago.RequireAll,
		MaxAttempts:  2,
		Logger:       zaptest.NewLogger(t),
	})
	assert.Equal(t, "thumbflow.events", p.writer.Topic)
	assert.Equal(t, 1, p.writer.BatchSize)
	assert.Equal(t, kafkago.RequireAll, p.writer.RequiredAcks)
	assert.Equal(t, 2, p.writer.MaxAttempts)
	assert.NotNil(t, p.writer.ErrorLogger)
	require.NoError(t, p.Close(context.Background()))
}

func TestBuildMessageOrdersHeaders(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := buildMessage([]byte("a.png"), []byte(`{}`), map[string]string{
		"event_type":      "derivation.completed",
		"attempt":         "2",
		ContentTypeHeader: "text/plain",
	}, at)

	assert.Equal(t, []byte("a.png"), msg.Key)
	assert.Equal(t, at, msg.Time)
	require.Len(t, msg.Headers, 3)
	assert.Equal(t, kafkago.Header{Key: ContentTypeHeader, Value: []byte("application/json")}, msg.Headers[0])
	assert.Equal(t, "attempt", msg.Headers[1].Key)
	assert.Equal(t, "event_type", msg.Headers[2].Key)
}
