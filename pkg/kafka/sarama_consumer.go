// pkg/kafka/sarama_consumer.go
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/YaganovValera/kafka-relay/pkg/logger"
)

// consumerGroup — подмножество sarama.ConsumerGroup, которое нужно подписчику.
type consumerGroup interface {
	Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error
	Errors() <-chan error
	Close() error
}

// saramaSubscriber превращает push-модель ConsumerGroup в Poll.
//
// Сессии группы крутятся в фоне и отдают сообщения в небуферизованный канал;
// MarkMessage выполняется только после того, как сообщение забрал Poll.
type saramaSubscriber struct {
	group   consumerGroup
	handler sarama.ConsumerGroupHandler
	log     *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	msgs chan Message
	errs chan error

	mu         sync.Mutex
	subscribed bool
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

type handlerWrapper func(sarama.ConsumerGroupHandler) sarama.ConsumerGroupHandler

func newSaramaSubscriber(group consumerGroup, wrap handlerWrapper, log *logger.Logger) *saramaSubscriber {
	ctx, cancel := context.WithCancel(context.Background())
	s := &saramaSubscriber{
		group:  group,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		msgs:   make(chan Message),
		errs:   make(chan error, 1),
	}
	var h sarama.ConsumerGroupHandler = &groupHandler{out: s.msgs}
	if wrap != nil {
		h = wrap(h)
	}
	s.handler = h
	return s
}

// Subscribe запускает фоновые сессии consumer group на одном топике.
func (s *saramaSubscriber) Subscribe(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribed {
		return fmt.Errorf("kafka: already subscribed")
	}
	s.subscribed = true

	s.wg.Add(2)
	go s.consumeLoop([]string{topic})
	go s.drainErrors()
	return nil
}

func (s *saramaSubscriber) consumeLoop(topics []string) {
	defer s.wg.Done()
	for {
		if err := s.group.Consume(s.ctx, topics, s.handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || s.ctx.Err() != nil {
				return
			}
			select {
			case s.errs <- err:
			default:
			}
			return
		}
		if s.ctx.Err() != nil {
			return
		}
	}
}

func (s *saramaSubscriber) drainErrors() {
	defer s.wg.Done()
	for err := range s.group.Errors() {
		s.log.Error("consumer group error", zap.Error(err))
	}
}

func (s *saramaSubscriber) isSubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed
}

// Poll ждёт первое сообщение и добирает то, что уже готово, до maxPollRecords.
func (s *saramaSubscriber) Poll(ctx context.Context) ([]Message, error) {
	if !s.isSubscribed() {
		return nil, ErrNotSubscribed
	}
	if s.ctx.Err() != nil {
		return nil, ErrInterrupted
	}

	select {
	case <-s.ctx.Done():
		return nil, ErrInterrupted
	case <-ctx.Done():
		return nil, ErrInterrupted
	case err := <-s.errs:
		return nil, fmt.Errorf("kafka: consume: %w", err)
	case m := <-s.msgs:
		batch := []Message{m}
		for len(batch) < maxPollRecords {
			select {
			case m := <-s.msgs:
				batch = append(batch, m)
			default:
				return batch, nil
			}
		}
		return batch, nil
	}
}

// Interrupt прерывает текущий и все последующие Poll.
func (s *saramaSubscriber) Interrupt() { s.cancel() }

// Close останавливает сессии и закрывает группу.
func (s *saramaSubscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.group.Close()
		s.wg.Wait()
		s.log.Info("kafka consumer closed")
	})
	return err
}

// -----------------------------------------------------------------------------
// Internal handler
// -----------------------------------------------------------------------------

type groupHandler struct {
	out chan<- Message
}

func (h *groupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case m, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			select {
			case h.out <- fromSarama(m):
				sess.MarkMessage(m, "")
			case <-sess.Context().Done():
				return nil
			}
		case <-sess.Context().Done():
			return nil
		}
	}
}

func fromSarama(m *sarama.ConsumerMessage) Message {
	return Message{
		Topic:     m.Topic,
		Key:       m.Key,
		Value:     m.Value,
		Partition: m.Partition,
		Offset:    m.Offset,
	}
}
