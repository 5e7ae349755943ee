package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"

	"live-auction/utils"
)

// LogSink writes outbid messages to the service log
type LogSink struct{}

func (LogSink) Send(ctx context.Context, msg Message) error {
	utils.Info("Outbid notification", map[string]any{
		"lot_id":        msg.LotID,
		"user_id":       msg.UserID,
		"new_price":     msg.NewPrice,
		"new_leader_id": msg.NewLeaderID,
		"text":          msg.Text,
	})
	return nil
}

func (LogSink) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes outbid messages to a topic keyed by the outbid user id,
// so a consumer sees one user's notifications in order.
type KafkaSink struct {
	w messageWriter
}

// NewKafkaWriter builds a writer for a comma separated broker list
func NewKafkaWriter(brokers, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaSink(w messageWriter) *KafkaSink {
	return &KafkaSink{w: w}
}

func (s *KafkaSink) Send(ctx context.Context, msg Message) error {
	payload, err := msg.JSON()
	if err != nil {
		return fmt.Errorf("kafka sink: encode: %w", err)
	}
	if err := s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.UserID),
		Value: payload,
		Time:  time.Now(),
	}); err != nil {
		return fmt.Errorf("kafka sink: write: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error { return s.w.Close() }

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitSink publishes persistent JSON messages to a durable queue through the default exchange
type RabbitSink struct {
	conn  *amqp.Connection
	ch    amqpChannel
	queue string
}

// DialRabbitSink connects to the broker and declares the queue
func DialRabbitSink(url, queue string) (*RabbitSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq sink: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq sink: channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq sink: declare %s: %w", queue, err)
	}

	return &RabbitSink{conn: conn, ch: ch, queue: queue}, nil
}

func (s *RabbitSink) Send(ctx context.Context, msg Message) error {
	payload, err := msg.JSON()
	if err != nil {
		return fmt.Errorf("rabbitmq sink: encode: %w", err)
	}
	err = s.ch.PublishWithContext(
		ctx,
		"",
		s.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    msg.OccurredAt,
			Body:         payload,
		},
	)
	if err != nil {
		return fmt.Errorf("rabbitmq sink: publish: %w", err)
	}
	return nil
}

func (s *RabbitSink) Close() error {
	if s.ch != nil {
		s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
