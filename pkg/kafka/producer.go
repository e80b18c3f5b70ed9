// Package kafka publishes pipeline events to a Kafka topic.
package kafka

import (
	"context"
	"sort"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ContentTypeHeader is stamped on every message.
const ContentTypeHeader = "content-type"

// Producer writes JSON events keyed by object key. Messages sharing a key
// land on the same partition, so consumers see one image's events in order.
type Producer struct {
	writer *kafkago.Writer
}

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	Compression  kafkago.Compression
	RequiredAcks kafkago.RequiredAcks
	MaxAttempts  int
	WriteTimeout time.Duration
	// Logger receives writer errors. Nil discards them.
	Logger *zap.Logger
}

func NewProducer(cfg ProducerConfig) *Producer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafkago.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           cfg.RequiredAcks,
		Compression:            cfg.Compression,
		MaxAttempts:            cfg.MaxAttempts,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
	if cfg.Logger != nil {
		log := cfg.Logger.Named("kafka")
		w.ErrorLogger = kafkago.LoggerFunc(func(msg string, args ...any) {
			log.Sugar().Warnf(msg, args...)
		})
	}
	return &Producer{writer: w}
}

// Publish writes one message. Headers are sent in key order.
func (p *Producer) Publish(ctx context.Context, key []byte, value []byte, headers map[string]string) error {
	return p.writer.WriteMessages(ctx, buildMessage(key, value, headers, time.Now().UTC()))
}

func buildMessage(key, value []byte, headers map[string]string, at time.Time) kafkago.Message {
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)

	msg := kafkago.Message{Key: key, Value: value, Time: at}
	msg.Headers = append(msg.Headers, kafkago.Header{Key: ContentTypeHeader, Value: []byte("application/json")})
	for _, k := range names {
		if k == ContentTypeHeader {
			continue
		}
		msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(headers[k])})
	}
	return msg
}

// Close flushes pending messages. It gives up when ctx is done; the writer
// keeps closing in the background.
func (p *Producer) Close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- p.writer.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CompressionFromString maps a codec name to kafka-go. Unknown names fall
// back to snappy; "none" disables compression.
func CompressionFromString(name string) kafkago.Compression {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "off":
		return 0
	case "gzip":
		return kafkago.Gzip
	case "lz4":
		return kafkago.Lz4
	case "zstd":
		return kafkago.Zstd
	default:
		return kafkago.Snappy
	}
}
