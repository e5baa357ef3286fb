// pkg/kafka/interface.go
//
// Пакет kafka задаёт контракты публикации и чтения сообщений и фабрику,
// которая собирает их поверх одного из драйверов (sarama, franz-go, kafka-go).
package kafka

import (
	"context"
	"errors"
)

var (
	// ErrInterrupted возвращает Poll после Interrupt() или отмены контекста.
	// Это сигнал штатного завершения, а не ошибка.
	ErrInterrupted = errors.New("kafka: poll interrupted")

	// ErrNotSubscribed возвращает Poll, если Subscribe ещё не вызывался.
	ErrNotSubscribed = errors.New("kafka: not subscribed")

	// ErrUnknownDriver — неизвестное имя драйвера в Config.Driver.
	ErrUnknownDriver = errors.New("kafka: unknown driver")
)

// Message — запись Kafka. Partition и Offset заполняются только при чтении.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Partition int32
	Offset    int64
}

// Delivery — асинхронный результат отправки одного сообщения.
type Delivery struct {
	Topic     string
	Partition int32
	Offset    int64
	Err       error
}

// DeliveryFunc вызывается ровно один раз на сообщение из горутины драйвера.
// Не должна блокироваться.
type DeliveryFunc func(Delivery)

// Publisher публикует сообщения асинхронно.
type Publisher interface {
	// Publish ставит сообщение в очередь драйвера и сразу возвращает управление.
	Publish(ctx context.Context, msg Message, cb DeliveryFunc) error
	// Close блокирует, пока все отправки не завершатся (успехом или ошибкой)
	// и все callback'и не отработают.
	Close() error
}

// Subscriber читает один топик в рамках consumer group.
type Subscriber interface {
	Subscribe(topic string) error
	// Poll блокирует без таймаута, пока не придёт хотя бы одно сообщение.
	// После Interrupt() или отмены ctx возвращает ErrInterrupted.
	Poll(ctx context.Context) ([]Message, error)
	// Interrupt безопасен из любой горутины и в любой момент; не блокирует.
	Interrupt()
	Close() error
}

func deliver(cb DeliveryFunc, d Delivery) {
	if cb != nil {
		cb(d)
	}
}
