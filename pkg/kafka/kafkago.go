// pkg/kafka/kafkago.go
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/YaganovValera/kafka-relay/pkg/logger"
)

const kafkaGoBatchTimeout = 10 * time.Millisecond

func kafkaGoCompression(name string) (kafka.Compression, error) {
	switch name {
	case "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	}
	return 0, fmt.Errorf("kafka: invalid Compression %q", name)
}

func kafkaGoAcks(name string) (kafka.RequiredAcks, error) {
	switch name {
	case "all":
		return kafka.RequireAll, nil
	case "leader":
		return kafka.RequireOne, nil
	case "none":
		return kafka.RequireNone, nil
	}
	return kafka.RequireAll, fmt.Errorf("kafka: invalid RequiredAcks %q", name)
}

// -----------------------------------------------------------------------------
// Publisher
// -----------------------------------------------------------------------------

// kafkaGoPublisher — асинхронный kafka.Writer; DeliveryFunc едет в WriterData.
type kafkaGoPublisher struct {
	w         *kafka.Writer
	log       *logger.Logger
	closeOnce sync.Once
}

func newKafkaGoWriter(c Config) (*kafka.Writer, error) {
	codec, err := kafkaGoCompression(c.Compression)
	if err != nil {
		return nil, err
	}
	acks, err := kafkaGoAcks(c.RequiredAcks)
	if err != nil {
		return nil, err
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		Compression:  codec,
		RequiredAcks: acks,
		// BatchBytes в kafka-go ограничивает и размер одного сообщения
		BatchBytes:   MaxMessageBytes,
		BatchTimeout: kafkaGoBatchTimeout,
		Async:        true,
		Completion:   kafkaGoCompletion,
		Transport:    &kafka.Transport{ClientID: ClientID},
	}, nil
}

func kafkaGoCompletion(msgs []kafka.Message, err error) {
	for _, m := range msgs {
		cb, _ := m.WriterData.(DeliveryFunc)
		deliver(cb, Delivery{
			Topic:     m.Topic,
			Partition: int32(m.Partition),
			Offset:    m.Offset,
			Err:       err,
		})
	}
}

func newKafkaGoPublisher(c Config, log *logger.Logger) (*kafkaGoPublisher, error) {
	w, err := newKafkaGoWriter(c)
	if err != nil {
		return nil, err
	}
	return &kafkaGoPublisher{w: w, log: log}, nil
}

func (p *kafkaGoPublisher) Publish(ctx context.Context, msg Message, cb DeliveryFunc) error {
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic:      msg.Topic,
		Key:        msg.Key,
		Value:      msg.Value,
		WriterData: cb,
	})
}

// Close у kafka.Writer дожидается отправки всех батчей и их Completion.
func (p *kafkaGoPublisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.w.Close()
		p.log.Info("kafka producer closed")
	})
	return err
}

// -----------------------------------------------------------------------------
// Subscriber
// -----------------------------------------------------------------------------

type kafkaGoSubscriber struct {
	cfg Config
	log *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	reader    *kafka.Reader
	closeOnce sync.Once
}

func newKafkaGoSubscriber(c Config, log *logger.Logger) *kafkaGoSubscriber {
	ctx, cancel := context.WithCancel(context.Background())
	return &kafkaGoSubscriber{cfg: c, log: log, ctx: ctx, cancel: cancel}
}

func (s *kafkaGoSubscriber) Subscribe(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader != nil {
		return fmt.Errorf("kafka: already subscribed")
	}
	s.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     s.cfg.Brokers,
		GroupID:     GroupID,
		Topic:       topic,
		MaxBytes:    MaxMessageBytes,
		StartOffset: kafka.LastOffset,
		Dialer:      &kafka.Dialer{ClientID: ClientID, Timeout: 10 * time.Second, DualStack: true},
	})
	return nil
}

func (s *kafkaGoSubscriber) currentReader() *kafka.Reader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader
}

// Poll у kafka-go отдаёт сообщения по одному: Reader не умеет
// неблокирующе забрать уже скачанное.
func (s *kafkaGoSubscriber) Poll(ctx context.Context) ([]Message, error) {
	r := s.currentReader()
	if r == nil {
		return nil, ErrNotSubscribed
	}

	if s.ctx.Err() != nil {
		return nil, ErrInterrupted
	}
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	m, err := r.ReadMessage(pctx)
	if err != nil {
		if pctx.Err() != nil || errors.Is(err, io.EOF) {
			return nil, ErrInterrupted
		}
		return nil, fmt.Errorf("kafka: read: %w", err)
	}
	return []Message{{
		Topic:     m.Topic,
		Key:       m.Key,
		Value:     m.Value,
		Partition: int32(m.Partition),
		Offset:    m.Offset,
	}}, nil
}

func (s *kafkaGoSubscriber) Interrupt() { s.cancel() }

func (s *kafkaGoSubscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		if r := s.currentReader(); r != nil {
			err = r.Close()
		}
		s.log.Info("kafka consumer closed")
	})
	return err
}

// pingKafkaGo проверяет, что хотя бы один брокер принимает соединение.
func pingKafkaGo(ctx context.Context, brokers []string) error {
	d := &kafka.Dialer{ClientID: ClientID, Timeout: 5 * time.Second, DualStack: true}
	var errs []error
	for _, b := range brokers {
		conn, err := d.DialContext(ctx, "tcp", b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_ = conn.Close()
		return nil
	}
	return fmt.Errorf("kafka: no broker reachable: %w", errors.Join(errs...))
}
