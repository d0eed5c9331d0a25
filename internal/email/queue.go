package email

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/cadogy/cadogy-backend/internal/config"
)

// Producer publishes messages to the email topic
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a Kafka writer for the configured brokers and topic
func NewProducer(cfg config.EmailQueueConfig) *Producer {
	transport := &kafka.Transport{}
	if cfg.Username != "" {
		transport.SASL = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	}
	if cfg.UseTLS {
		transport.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
			Transport:    transport,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Publish writes msg to the topic, keyed by recipient so one address keeps its ordering
func (p *Producer) Publish(ctx context.Context, msg Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode email message: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.To),
		Value: value,
		Time:  time.Now(),
	})
}

// Close flushes and closes the writer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// messageReader is the subset of *kafka.Reader the consumer needs
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads queued messages and delivers them through a Sender. Offsets are committed
// after delivery; a message that fails to decode is committed and dropped, a message that
// fails to send is retried up to maxAttempts before being dropped.
type Consumer struct {
	reader      messageReader
	sender      Sender
	maxAttempts int
	backoff     time.Duration
}

// NewConsumer creates a consumer-group reader for the email topic
func NewConsumer(cfg config.EmailQueueConfig, sender Sender) *Consumer {
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	if cfg.Username != "" {
		dialer.SASLMechanism = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	}
	if cfg.UseTLS {
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
		Dialer:   dialer,
	})
	return newConsumer(reader, sender)
}

func newConsumer(reader messageReader, sender Sender) *Consumer {
	return &Consumer{reader: reader, sender: sender, maxAttempts: 3, backoff: 2 * time.Second}
}

// Run consumes until ctx is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("email consumer started")
	defer slog.Info("email consumer stopped")

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			slog.Error("email consumer: fetch failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		c.handle(ctx, m)

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			slog.Error("email consumer: commit failed", "offset", m.Offset, "error", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	var msg Message
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		slog.Error("email consumer: dropping undecodable message", "offset", m.Offset, "error", err)
		return
	}

	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err = c.sender.Send(ctx, msg); err == nil {
			recordSent(msg.Template, "sent")
			return
		}
		if attempt < c.maxAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}
	}
	recordSent(msg.Template, "failed")
	slog.Error("email consumer: delivery failed", "to", msg.To, "template", msg.Template, "error", err)
}

// Close closes the reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
