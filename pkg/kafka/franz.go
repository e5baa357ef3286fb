// pkg/kafka/franz.go
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/YaganovValera/kafka-relay/pkg/logger"
)

func franzCompression(name string) (kgo.CompressionCodec, error) {
	switch name {
	case "none":
		return kgo.NoCompression(), nil
	case "gzip":
		return kgo.GzipCompression(), nil
	case "snappy":
		return kgo.SnappyCompression(), nil
	case "lz4":
		return kgo.Lz4Compression(), nil
	case "zstd":
		return kgo.ZstdCompression(), nil
	}
	return kgo.NoCompression(), fmt.Errorf("kafka: invalid Compression %q", name)
}

func franzAcks(name string) (kgo.Acks, error) {
	switch name {
	case "all":
		return kgo.AllISRAcks(), nil
	case "leader":
		return kgo.LeaderAck(), nil
	case "none":
		return kgo.NoAck(), nil
	}
	return kgo.AllISRAcks(), fmt.Errorf("kafka: invalid RequiredAcks %q", name)
}

func franzBaseOpts(c Config) []kgo.Opt {
	return []kgo.Opt{
		kgo.SeedBrokers(c.Brokers...),
		kgo.ClientID(ClientID),
	}
}

func franzProducerOpts(c Config) ([]kgo.Opt, error) {
	codec, err := franzCompression(c.Compression)
	if err != nil {
		return nil, err
	}
	acks, err := franzAcks(c.RequiredAcks)
	if err != nil {
		return nil, err
	}
	opts := append(franzBaseOpts(c),
		kgo.ProducerBatchCompression(codec),
		// в franz-go лимит батча ограничивает и размер одной записи
		kgo.ProducerBatchMaxBytes(MaxMessageBytes),
		kgo.MaxBufferedBytes(BufferBytes),
		kgo.RequiredAcks(acks),
	)
	// идемпотентная запись в franz-go требует acks=all
	if c.RequiredAcks != "all" {
		opts = append(opts, kgo.DisableIdempotentWrite())
	}
	return opts, nil
}

func franzConsumerOpts(c Config) []kgo.Opt {
	return append(franzBaseOpts(c),
		kgo.ConsumerGroup(GroupID),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.FetchMaxBytes(MaxMessageBytes),
		kgo.FetchMaxPartitionBytes(MaxMessageBytes),
	)
}

// -----------------------------------------------------------------------------
// Publisher
// -----------------------------------------------------------------------------

type franzPublisher struct {
	client    *kgo.Client
	log       *logger.Logger
	closeOnce sync.Once
}

func newFranzPublisher(c Config, log *logger.Logger) (*franzPublisher, error) {
	opts, err := franzProducerOpts(c)
	if err != nil {
		return nil, err
	}
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: franz client: %w", err)
	}
	return &franzPublisher{client: cl, log: log}, nil
}

func (p *franzPublisher) Publish(ctx context.Context, msg Message, cb DeliveryFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := &kgo.Record{Topic: msg.Topic, Key: msg.Key, Value: msg.Value}
	// контекст записи живёт до Close, отмена вызывающего не должна ронять отправку
	p.client.Produce(context.WithoutCancel(ctx), rec, func(r *kgo.Record, err error) {
		deliver(cb, Delivery{
			Topic:     r.Topic,
			Partition: r.Partition,
			Offset:    r.Offset,
			Err:       err,
		})
	})
	return nil
}

func (p *franzPublisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.client.Flush(context.Background())
		p.client.Close()
		p.log.Info("kafka producer closed")
	})
	return err
}

// -----------------------------------------------------------------------------
// Subscriber
// -----------------------------------------------------------------------------

type franzSubscriber struct {
	client *kgo.Client
	log    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	subscribed bool
	closeOnce  sync.Once
}

func newFranzSubscriber(c Config, log *logger.Logger) (*franzSubscriber, error) {
	cl, err := kgo.NewClient(franzConsumerOpts(c)...)
	if err != nil {
		return nil, fmt.Errorf("kafka: franz client: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &franzSubscriber{client: cl, log: log, ctx: ctx, cancel: cancel}, nil
}

func (s *franzSubscriber) Subscribe(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribed {
		return fmt.Errorf("kafka: already subscribed")
	}
	s.client.AddConsumeTopics(topic)
	s.subscribed = true
	return nil
}

func (s *franzSubscriber) isSubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed
}

func (s *franzSubscriber) Poll(ctx context.Context) ([]Message, error) {
	if !s.isSubscribed() {
		return nil, ErrNotSubscribed
	}

	if s.ctx.Err() != nil {
		return nil, ErrInterrupted
	}
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	for {
		if pctx.Err() != nil {
			return nil, ErrInterrupted
		}
		fetches := s.client.PollRecords(pctx, maxPollRecords)
		if fetches.IsClientClosed() || pctx.Err() != nil {
			return nil, ErrInterrupted
		}
		out, err := franzBatch(fetches, s.log)
		if err != nil {
			return nil, err
		}
		if len(out) > 0 {
			return out, nil
		}
	}
}

// franzBatch переводит результат PollRecords в пачку сообщений.
// Первая ошибка фетча, кроме потери данных, возвращается вызывающему.
func franzBatch(fetches kgo.Fetches, log *logger.Logger) ([]Message, error) {
	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.Canceled) || errors.Is(fe.Err, context.DeadlineExceeded) {
			return nil, ErrInterrupted
		}
		var loss *kgo.ErrDataLoss
		if errors.As(fe.Err, &loss) {
			log.Warn("fetch data loss",
				zap.String("topic", fe.Topic),
				zap.Int32("partition", fe.Partition),
				zap.Error(fe.Err))
			continue
		}
		return nil, fmt.Errorf("kafka: fetch %s[%d]: %w", fe.Topic, fe.Partition, fe.Err)
	}

	var out []Message
	fetches.EachRecord(func(r *kgo.Record) {
		out = append(out, Message{
			Topic:     r.Topic,
			Key:       r.Key,
			Value:     r.Value,
			Partition: r.Partition,
			Offset:    r.Offset,
		})
	})
	return out, nil
}

func (s *franzSubscriber) Interrupt() { s.cancel() }

func (s *franzSubscriber) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.client.Close()
		s.log.Info("kafka consumer closed")
	})
	return nil
}
