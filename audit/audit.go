/*
Package audit provides generic.AuditLog sinks outside the primary store.

SINKS:
  Log    writes each event as one structured zap entry
  Kafka  publishes each event to a topic, keyed by target id
  Multi  fans an event out to several sinks

Stores that implement generic.AuditLog (memory, sqlite, postgres) remain the
queryable record; these sinks feed external consumers.
*/
package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// LOG SINK
// =============================================================================

type Log struct {
	logger *zap.Logger
}

var _ generic.AuditLog = (*Log)(nil)

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger.Named("audit")}
}

func (l *Log) Record(_ context.Context, e generic.AuditEvent) error {
	payload, err := generic.MarshalAuditPayload(e)
	if err != nil {
		return err
	}
	l.logger.Info("audit event",
		zap.String("audit_id", e.ID),
		zap.Time("at", e.At),
		zap.String("actor_id", e.ActorID),
		zap.String("action", string(e.Action())),
		zap.String("target_id", e.TargetID),
		zap.ByteString("payload", payload),
	)
	return nil
}

// =============================================================================
// KAFKA SINK
// =============================================================================

// MessageWriter is the subset of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Kafka struct {
	writer MessageWriter
	topic  string
}

var _ generic.AuditLog = (*Kafka)(nil)

// NewKafka publishes to topic through w. When w is a *kafka.Writer with its
// own Topic set, pass an empty topic.
func NewKafka(w MessageWriter, topic string) *Kafka {
	return &Kafka{writer: w, topic: topic}
}

// NewKafkaWriter builds a writer for brokers with hash partitioning, so
// every event for one target lands on the same partition.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

func (k *Kafka) Record(ctx context.Context, e generic.AuditEvent) error {
	value, err := generic.MarshalAuditEvent(e)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Topic: k.topic,
		Key:   []byte(e.TargetID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(e.Action())},
			{Key: "actor_id", Value: []byte(e.ActorID)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish audit event %s: %w", e.ID, err)
	}
	return nil
}

// =============================================================================
// FAN-OUT
// =============================================================================

// Multi records to every sink and joins their errors. A failing sink does
// not stop the others.
type Multi []generic.AuditLog

func (m Multi) Record(ctx context.Context, e generic.AuditEvent) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
