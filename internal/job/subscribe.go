// internal/job/subscribe.go
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/kafka-relay/internal/metrics"
	"github.com/YaganovValera/kafka-relay/pkg/kafka"
	"github.com/YaganovValera/kafka-relay/pkg/logger"
	"github.com/YaganovValera/kafka-relay/pkg/telemetry"
)

// SubscriberFactory создаёт подписчика на время одного запуска.
type SubscriberFactory interface {
	NewSubscriber(ctx context.Context) (kafka.Subscriber, error)
}

// subscriberHandle связывает хук остановки с подписчиком,
// который появляется позже регистрации хука.
type subscriberHandle struct {
	mu          sync.Mutex
	sub         kafka.Subscriber
	interrupted bool
}

func (h *subscriberHandle) set(s kafka.Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sub = s
	if h.interrupted {
		s.Interrupt()
	}
}

func (h *subscriberHandle) interrupt() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.interrupted = true
	if h.sub != nil {
		h.sub.Interrupt()
	}
}

// Subscribe читает topic и логирует каждое сообщение, пока ctx не отменён.
//
// Отмена ctx (SIGINT/SIGTERM) прерывает текущий Poll через Interrupt;
// такое завершение штатное и возвращает nil.
func Subscribe(ctx context.Context, f SubscriberFactory, topic string, log *logger.Logger) error {
	log = log.Named("subscribe").With(zap.String("topic", topic))

	h := &subscriberHandle{}
	stop := context.AfterFunc(ctx, func() {
		log.Warn("shutdown signal received, interrupting consumer")
		h.interrupt()
	})
	defer stop()

	sub, err := f.NewSubscriber(ctx)
	if err != nil {
		return fmt.Errorf("create subscriber: %w", err)
	}
	h.set(sub)
	defer func() {
		if cerr := sub.Close(); cerr != nil {
			log.Error("subscriber close failed", zap.Error(cerr))
		}
	}()

	if err := sub.Subscribe(topic); err != nil {
		return fmt.Errorf("subscribe %q: %w", topic, err)
	}
	log.Info("subscribed", zap.String("group", kafka.GroupID))

	// Poll прерывается только через Interrupt
	pollCtx := context.WithoutCancel(ctx)
	for {
		batch, err := sub.Poll(pollCtx)
		if errors.Is(err, kafka.ErrInterrupted) {
			log.Info("consumer interrupted, stopping")
			return nil
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		handleBatch(pollCtx, batch, log)
	}
}

func handleBatch(ctx context.Context, batch []kafka.Message, log *logger.Logger) {
	_, span := telemetry.Tracer("kafka-relay/job").Start(ctx, "ReceiveBatch",
		trace.WithAttributes(attribute.Int("messaging.batch.message_count", len(batch))))
	defer span.End()

	if len(batch) > 0 {
		metrics.BatchesReceived.Inc()
	}
	for _, m := range batch {
		metrics.MessagesReceived.Inc()
		log.Info("message received",
			zap.ByteString("key", m.Key),
			zap.Int32("partition", m.Partition),
			zap.Int64("offset", m.Offset),
		)
		log.Debug("message payload", zap.ByteString("value", m.Value))
	}
}
