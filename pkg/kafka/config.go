// pkg/kafka/config.go
package kafka

import (
	"fmt"
	"strings"

	"github.com/YaganovValera/kafka-relay/pkg/backoff"
)

// Драйверы клиента Kafka.
const (
	DriverSarama  = "sarama"
	DriverFranz   = "franz"
	DriverKafkaGo = "kafka-go"
)

// Фиксированный тюнинг клиентов.
const (
	GroupID  = "kafka-relay"
	ClientID = "kafka-relay"

	BatchBytes      = 16384
	BufferBytes     = 33554432
	MaxMessageBytes = 15 * 1024 * 1024

	maxPollRecords = 500
)

// Config — параметры фабрики клиентов.
type Config struct {
	// Driver: "sarama" (дефолт) | "franz" | "kafka-go".
	Driver string

	// Brokers — список host:port.
	Brokers []string

	// Compression: "none", "gzip", "snappy" (дефолт), "lz4", "zstd".
	Compression string

	// RequiredAcks: "all" | "leader" (дефолт) | "none".
	RequiredAcks string

	// Backoff — ретраи подключения для драйверов с eager-connect (sarama).
	Backoff backoff.Config
}

func (c *Config) applyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverSarama
	}
	if c.Compression == "" {
		c.Compression = "snappy"
	}
	if c.RequiredAcks == "" {
		c.RequiredAcks = "leader"
	}
	c.Driver = strings.ToLower(c.Driver)
	c.Compression = strings.ToLower(c.Compression)
	c.RequiredAcks = strings.ToLower(c.RequiredAcks)
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka: brokers required")
	}
	switch c.Driver {
	case DriverSarama, DriverFranz, DriverKafkaGo:
	default:
		return fmt.Errorf("%w %q", ErrUnknownDriver, c.Driver)
	}
	switch c.Compression {
	case "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("kafka: invalid Compression %q", c.Compression)
	}
	switch c.RequiredAcks {
	case "all", "leader", "none":
	default:
		return fmt.Errorf("kafka: invalid RequiredAcks %q", c.RequiredAcks)
	}
	return nil
}

// ParseBrokers разбирает строку "host:port[,host:port...]".
// Пробелы обрезаются, пустые элементы отбрасываются.
func ParseBrokers(list ...string) []string {
	var out []string
	for _, s := range list {
		for _, b := range strings.Split(s, ",") {
			if b = strings.TrimSpace(b); b != "" {
				out = append(out, b)
			}
		}
	}
	return out
}
