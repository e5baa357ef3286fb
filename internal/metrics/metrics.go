// internal/metrics/metrics.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// FilesProcessed — число файлов, прочитанных в режиме write.
	FilesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kafka_relay",
		Subsystem: "publish",
		Name:      "files_processed_total",
		Help:      "Total number of input files read in write mode",
	})

	// MessagesSent — сообщения, переданные издателю.
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kafka_relay",
		Subsystem: "publish",
		Name:      "messages_sent_total",
		Help:      "Total number of messages handed to the publisher",
	})

	// MessagesDelivered — подтверждённые брокером отправки.
	MessagesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kafka_relay",
		Subsystem: "publish",
		Name:      "messages_delivered_total",
		Help:      "Total number of messages acknowledged by Kafka",
	})

	// DeliveryErrors — отправки, завершившиеся ошибкой.
	DeliveryErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kafka_relay",
		Subsystem: "publish",
		Name:      "delivery_errors_total",
		Help:      "Total number of failed deliveries",
	})

	// BatchesReceived — непустые результаты Poll.
	BatchesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kafka_relay",
		Subsystem: "subscribe",
		Name:      "batches_received_total",
		Help:      "Total number of non-empty poll batches",
	})

	// HTTPRequests — запросы к ops-серверу.
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kafka_relay",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests to the ops server",
	}, []string{"path", "method", "code"})

	// HTTPDuration — длительность запросов к ops-серверу.
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kafka_relay",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Ops server request duration (seconds)",
		Buckets:   prometheus.DefBuckets,
	}, []string{"path", "method"})

	// MessagesReceived — сообщения, прочитанные в режиме read.
	MessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kafka_relay",
		Subsystem: "subscribe",
		Name:      "messages_received_total",
		Help:      "Total number of messages received in read mode",
	})
)

// Register регистрирует все метрики в заданном реестре.
// Можно вызвать без аргументов, чтобы зарегистрировать в DefaultRegisterer.
func Register(registerers ...prometheus.Registerer) {
	once.Do(func() {
		var reg prometheus.Registerer
		if len(registerers) > 0 && registerers[0] != nil {
			reg = registerers[0]
		} else {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			FilesProcessed,
			MessagesSent,
			MessagesDelivered,
			DeliveryErrors,
			BatchesReceived,
			MessagesReceived,
			HTTPRequests,
			HTTPDuration,
		)
	})
}
