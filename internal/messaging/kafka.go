package messaging

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/config"
)

const (
	headerMessageID   = "message-id"
	headerContentType = "content-type"
)

// Kafka is a Transport that maps the queue onto a single-partition topic, so
// delivery stays FIFO. Acknowledgement is an offset commit.
type Kafka struct {
	brokers  []string
	groupID  string
	confirms bool
	dialer   *kafka.Dialer
	logger   *zap.Logger

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	readers []*kafka.Reader
	closed  chan error
}

func NewKafka(ctx context.Context, cfg config.BrokerConfig, logger *zap.Logger) (*Kafka, error) {
	dialer := &kafka.Dialer{Timeout: cfg.DialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", cfg.KafkaBrokers[0])
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to Kafka at %s: %w", ErrTransportUnavailable, cfg.KafkaBrokers[0], err)
	}
	conn.Close()

	logger.Info("connected to Kafka", zap.Strings("brokers", cfg.KafkaBrokers))

	return &Kafka{
		brokers:  cfg.KafkaBrokers,
		groupID:  cfg.KafkaGroupID,
		confirms: cfg.Confirms,
		dialer:   dialer,
		logger:   logger,
		writers:  make(map[string]*kafka.Writer),
		closed:   make(chan error, 1),
	}, nil
}

// DeclareQueue creates a one-partition topic, or checks the existing one.
func (k *Kafka) DeclareQueue(ctx context.Context, spec QueueSpec) error {
	if spec.Exclusive || spec.AutoDelete || !spec.Durable {
		return fmt.Errorf("%w: %s: kafka topics are always durable, shared and persistent", ErrQueueMismatch, spec.Name)
	}

	conn, err := k.dialer.DialContext(ctx, "tcp", k.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka: %w", err)
	}
	defer conn.Close()

	if partitions, err := conn.ReadPartitions(spec.Name); err == nil && len(partitions) > 0 {
		if len(partitions) != 1 {
			return fmt.Errorf("%w: topic %s has %d partitions, want 1", ErrQueueMismatch, spec.Name, len(partitions))
		}
		return nil
	}

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to find kafka controller: %w", err)
	}
	cc, err := k.dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer cc.Close()

	err = cc.CreateTopics(kafka.TopicConfig{
		Topic:             spec.Name,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to create topic: %w", err)
	}

	k.logger.Info("topic declared", zap.String("topic", spec.Name))
	return nil
}

func (k *Kafka) writer(topic string) *kafka.Writer {
	k.mu.Lock()
	defer k.mu.Unlock()

	if w, ok := k.writers[topic]; ok {
		return w
	}

	acks := kafka.RequireOne
	if k.confirms {
		acks = kafka.RequireAll
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(k.brokers...),
		Topic:        topic,
		RequiredAcks: acks,
		MaxAttempts:  3,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
	k.writers[topic] = w
	return w
}

// Publish writes one message synchronously.
func (k *Kafka) Publish(ctx context.Context, queue string, msg Message) error {
	err := k.writer(queue).WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.ID),
		Value: msg.Body,
		Time:  msg.Timestamp,
		Headers: []kafka.Header{
			{Key: headerMessageID, Value: []byte(msg.ID)},
			{Key: headerContentType, Value: []byte(msg.ContentType)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Consume reads the topic in a consumer group. With AutoAck the offset is
// committed before the delivery is handed out.
func (k *Kafka) Consume(ctx context.Context, queue string, opts ConsumeOptions) (<-chan Delivery, error) {
	capacity := opts.Prefetch
	if capacity < 1 {
		capacity = 1
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:       k.brokers,
		Topic:         queue,
		GroupID:       k.groupID,
		MinBytes:      1,
		MaxBytes:      10e6, // 10MB
		QueueCapacity: capacity,
		StartOffset:   kafka.FirstOffset,
	})

	k.mu.Lock()
	k.readers = append(k.readers, reader)
	k.mu.Unlock()

	k.logger.Info("starting kafka consumer",
		zap.String("topic", queue),
		zap.String("group", k.groupID),
		zap.Bool("auto_ack", opts.AutoAck),
	)

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			m, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					k.fail(err)
				}
				return
			}

			var acker Acknowledger
			if opts.AutoAck {
				if err := reader.CommitMessages(ctx, m); err != nil {
					if ctx.Err() == nil {
						k.fail(err)
					}
					return
				}
			} else {
				acker = kafkaAcker{reader: reader, msg: m, logger: k.logger}
			}

			d := NewDelivery(m.Value, headerValue(m, headerMessageID), uint64(m.Offset), false, acker)
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (k *Kafka) fail(err error) {
	select {
	case k.closed <- fmt.Errorf("%w: %v", ErrFatalTransport, err):
	default:
	}
}

// NotifyClose reports a reader failure.
func (k *Kafka) NotifyClose() <-chan error {
	return k.closed
}

// Close closes every writer and reader.
func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	var errs []error
	for _, w := range k.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range k.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	k.writers = map[string]*kafka.Writer{}
	k.readers = nil
	return errors.Join(errs...)
}

func headerValue(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

type kafkaAcker struct {
	reader *kafka.Reader
	msg    kafka.Message
	logger *zap.Logger
}

func (a kafkaAcker) Ack() error {
	return a.reader.CommitMessages(context.Background(), a.msg)
}

// Nack leaves the offset uncommitted. Kafka has no per-message requeue: a
// later commit moves past the message, so it is dropped either way and a
// requeue request reports ErrRequeueUnsupported.
func (a kafkaAcker) Nack(requeue bool) error {
	if requeue {
		a.logger.Warn("kafka cannot requeue a single message; it will be skipped",
			zap.Int64("offset", a.msg.Offset),
		)
		return ErrRequeueUnsupported
	}
	return nil
}
