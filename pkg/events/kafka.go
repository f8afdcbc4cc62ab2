// Package events publishes match outcomes to downstream consumers such as
// settlement.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/uhyunpark/arcdark/pkg/app/darkpool"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes each MatchEvent as one JSON message keyed by computation
// id. Only the public outcome is published.
type KafkaSink struct {
	writer messageWriter
	source string
}

func NewKafkaSink(brokers []string, topic, source string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		source: source,
	}
}

func (k *KafkaSink) Emit(ctx context.Context, ev darkpool.MatchEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode match event: %w", err)
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(ev.ComputationID, 10)),
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte("match")},
			{Key: "source", Value: []byte(k.source)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish match event %d: %w", ev.ComputationID, err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

var _ darkpool.EventSink = (*KafkaSink)(nil)
