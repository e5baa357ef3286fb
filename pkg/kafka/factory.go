// pkg/kafka/factory.go
package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/dnwe/otelsarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/kafka-relay/pkg/backoff"
	"github.com/YaganovValera/kafka-relay/pkg/logger"
)

// -----------------------------------------------------------------------------
// Service label
// -----------------------------------------------------------------------------

var serviceLabel = "unknown"

// SetServiceLabel вызывается один раз при старте.
func SetServiceLabel(name string) { serviceLabel = name }

// -----------------------------------------------------------------------------
// Prometheus-метрики
// -----------------------------------------------------------------------------

var clientMetrics = struct {
	ConnectAttempts *prometheus.CounterVec
	ConnectErrors   *prometheus.CounterVec
	PingErrors      *prometheus.CounterVec
}{
	ConnectAttempts: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kafka_relay", Subsystem: "kafka", Name: "connect_attempts_total",
			Help: "Kafka client connect attempts",
		},
		[]string{"service", "role"},
	),
	ConnectErrors: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kafka_relay", Subsystem: "kafka", Name: "connect_errors_total",
			Help: "Kafka client connect errors",
		},
		[]string{"service", "role"},
	),
	PingErrors: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kafka_relay", Subsystem: "kafka", Name: "ping_errors_total",
			Help: "Kafka readiness ping errors",
		},
		[]string{"service"},
	),
}

var tracer = otel.Tracer("kafka-relay/kafka")

// -----------------------------------------------------------------------------
// Factory
// -----------------------------------------------------------------------------

// Factory создаёт Publisher/Subscriber выбранного драйвера.
type Factory struct {
	cfg Config
	log *logger.Logger
}

// NewFactory валидирует конфиг; подключений не открывает.
func NewFactory(cfg Config, log *logger.Logger) (*Factory, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Factory{cfg: cfg, log: log.Named("kafka")}, nil
}

// Driver возвращает имя активного драйвера.
func (f *Factory) Driver() string { return f.cfg.Driver }

// NewPublisher создаёт асинхронного издателя.
func (f *Factory) NewPublisher(ctx context.Context) (Publisher, error) {
	log := f.log.Named("producer")
	switch f.cfg.Driver {
	case DriverFranz:
		return newFranzPublisher(f.cfg, log)
	case DriverKafkaGo:
		return newKafkaGoPublisher(f.cfg, log)
	case DriverSarama:
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, f.cfg.Driver)
	}

	sc, err := buildSaramaConfig(f.cfg)
	if err != nil {
		return nil, err
	}
	var prod sarama.AsyncProducer
	connect := func(ctx context.Context) error {
		clientMetrics.ConnectAttempts.WithLabelValues(serviceLabel, "producer").Inc()
		p, err := sarama.NewAsyncProducer(f.cfg.Brokers, sc)
		if err != nil {
			clientMetrics.ConnectErrors.WithLabelValues(serviceLabel, "producer").Inc()
			return retryable(err)
		}
		prod = p
		return nil
	}
	if err := f.connect(ctx, "producer", connect); err != nil {
		return nil, err
	}

	log.Info("kafka producer ready",
		zap.Strings("brokers", f.cfg.Brokers),
		zap.String("compression", f.cfg.Compression),
		zap.String("acks", f.cfg.RequiredAcks),
	)
	return newSaramaPublisher(otelsarama.WrapAsyncProducer(sc, prod), log), nil
}

// NewSubscriber создаёт подписчика в группе GroupID.
func (f *Factory) NewSubscriber(ctx context.Context) (Subscriber, error) {
	log := f.log.Named("consumer")
	switch f.cfg.Driver {
	case DriverFranz:
		return newFranzSubscriber(f.cfg, log)
	case DriverKafkaGo:
		return newKafkaGoSubscriber(f.cfg, log), nil
	case DriverSarama:
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, f.cfg.Driver)
	}

	sc, err := buildSaramaConfig(f.cfg)
	if err != nil {
		return nil, err
	}
	var group sarama.ConsumerGroup
	connect := func(ctx context.Context) error {
		clientMetrics.ConnectAttempts.WithLabelValues(serviceLabel, "consumer").Inc()
		g, err := sarama.NewConsumerGroup(f.cfg.Brokers, GroupID, sc)
		if err != nil {
			clientMetrics.ConnectErrors.WithLabelValues(serviceLabel, "consumer").Inc()
			return retryable(err)
		}
		group = g
		return nil
	}
	if err := f.connect(ctx, "consumer", connect); err != nil {
		return nil, err
	}

	log.Info("kafka consumer group connected",
		zap.Strings("brokers", f.cfg.Brokers),
		zap.String("group", GroupID),
	)
	wrap := func(h sarama.ConsumerGroupHandler) sarama.ConsumerGroupHandler {
		return otelsarama.WrapConsumerGroupHandler(h)
	}
	return newSaramaSubscriber(group, wrap, log), nil
}

func (f *Factory) connect(ctx context.Context, role string, op backoff.RetryableFunc) error {
	ctxConn, span := tracer.Start(ctx, "Connect",
		trace.WithAttributes(
			attribute.StringSlice("brokers", f.cfg.Brokers),
			attribute.String("role", role),
		))
	defer span.End()

	if err := backoff.Execute(ctxConn, f.cfg.Backoff, f.log, op); err != nil {
		span.RecordError(err)
		f.log.Error("kafka connect failed", zap.String("role", role), zap.Error(err))
		return fmt.Errorf("kafka %s: connect: %w", role, err)
	}
	return nil
}

// retryable помечает ошибки конфигурации sarama как неретраиваемые.
func retryable(err error) error {
	var cerr sarama.ConfigurationError
	if errors.As(err, &cerr) {
		return backoff.Permanent(err)
	}
	return err
}

// Ping проверяет доступность брокеров (используется в /readyz).
func (f *Factory) Ping(ctx context.Context) error {
	err := f.ping(ctx)
	if err != nil {
		clientMetrics.PingErrors.WithLabelValues(serviceLabel).Inc()
	}
	return err
}

func (f *Factory) ping(ctx context.Context) error {
	switch f.cfg.Driver {
	case DriverFranz:
		cl, err := kgo.NewClient(franzBaseOpts(f.cfg)...)
		if err != nil {
			return err
		}
		defer cl.Close()
		return cl.Ping(ctx)
	case DriverKafkaGo:
		return pingKafkaGo(ctx, f.cfg.Brokers)
	}

	sc, err := buildSaramaConfig(f.cfg)
	if err != nil {
		return err
	}
	cl, err := sarama.NewClient(f.cfg.Brokers, sc)
	if err != nil {
		return fmt.Errorf("kafka: ping: %w", err)
	}
	return cl.Close()
}
