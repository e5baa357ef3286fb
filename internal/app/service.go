// internal/app/service.go
package app

import (
	"github.com/YaganovValera/kafka-relay/pkg/backoff"
	"github.com/YaganovValera/kafka-relay/pkg/kafka"
)

// InitServiceName задаёт единое имя сервиса для метрик backoff и Kafka-клиентов.
// Вызывается до первого подключения к брокеру.
func InitServiceName(name string) {
	backoff.SetServiceLabel(name)
	kafka.SetServiceLabel(name)
}
