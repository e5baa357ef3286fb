// pkg/kafka/sarama_producer.go
package kafka

import (
	"context"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/YaganovValera/kafka-relay/pkg/logger"
)

// saramaPublisher — Publisher поверх sarama.AsyncProducer.
// DeliveryFunc едет в ProducerMessage.Metadata и вызывается из dispatch().
type saramaPublisher struct {
	prod sarama.AsyncProducer
	log  *logger.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func newSaramaPublisher(prod sarama.AsyncProducer, log *logger.Logger) *saramaPublisher {
	p := &saramaPublisher{
		prod: prod,
		log:  log,
		done: make(chan struct{}),
	}
	go p.dispatch()
	return p
}

// Publish отправляет сообщение во входной канал продьюсера.
func (p *saramaPublisher) Publish(ctx context.Context, msg Message, cb DeliveryFunc) error {
	pm := &sarama.ProducerMessage{
		Topic:    msg.Topic,
		Value:    sarama.ByteEncoder(msg.Value),
		Metadata: cb,
	}
	if msg.Key != nil {
		pm.Key = sarama.ByteEncoder(msg.Key)
	}

	select {
	case p.prod.Input() <- pm:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch читает Successes/Errors, пока продьюсер не закроет оба канала.
func (p *saramaPublisher) dispatch() {
	defer close(p.done)

	successes, errs := p.prod.Successes(), p.prod.Errors()
	for successes != nil || errs != nil {
		select {
		case m, ok := <-successes:
			if !ok {
				successes = nil
				continue
			}
			p.complete(m, nil)
		case pe, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.complete(pe.Msg, pe.Err)
		}
	}
}

func (p *saramaPublisher) complete(m *sarama.ProducerMessage, err error) {
	if m == nil {
		p.log.Error("producer error without message", zap.Error(err))
		return
	}
	cb, _ := m.Metadata.(DeliveryFunc)
	deliver(cb, Delivery{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Err:       err,
	})
}

// Close сбрасывает буферы продьюсера и ждёт последних callback'ов.
func (p *saramaPublisher) Close() error {
	p.closeOnce.Do(func() {
		p.prod.AsyncClose()
		<-p.done
		p.log.Info("kafka producer closed")
	})
	return nil
}
