package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"conviction-engine/internal/domain"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// KafkaQueue publishes outcomes keyed by outcome id and consumes them in a consumer
// group. Offsets are committed only through Delivery.Ack.
type KafkaQueue struct {
	reader messageReader
	writer messageWriter
}

var (
	newKafkaReader = func(cfg KafkaConfig) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.Topic,
			GroupID:     cfg.GroupID,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     time.Second,
			MaxAttempts: 10,
		})
	}
	newKafkaWriter = func(cfg KafkaConfig) messageWriter {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
	}
)

func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka: group id is required")
	}
	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Str("group_id", cfg.GroupID).Msg("using kafka outcome queue")
	return &KafkaQueue{reader: newKafkaReader(cfg), writer: newKafkaWriter(cfg)}, nil
}

func (q *KafkaQueue) Publish(ctx context.Context, outcome domain.TradeOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	return q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(outcome.ID),
		Value: data,
		Time:  outcome.ClosedAt,
	})
}

func (q *KafkaQueue) Receive(ctx context.Context) (Delivery, error) {
	m, err := q.reader.FetchMessage(ctx)
	if err != nil {
		return Delivery{}, err
	}
	d := Delivery{
		ack: func(ctx context.Context) error { return q.reader.CommitMessages(ctx, m) },
	}
	if err := json.Unmarshal(m.Value, &d.Outcome); err != nil {
		d.DecodeErr = fmt.Errorf("decode outcome at offset %d: %w", m.Offset, err)
	}
	return d, nil
}

func (q *KafkaQueue) Close() error {
	rerr := q.reader.Close()
	werr := q.writer.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}
