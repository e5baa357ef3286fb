// pkg/kafka/sarama.go
package kafka

import (
	"fmt"

	"github.com/IBM/sarama"
)

func buildSaramaConfig(c Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.ClientID = ClientID

	// RequiredAcks
	switch c.RequiredAcks {
	case "all":
		sc.Producer.RequiredAcks = sarama.WaitForAll
	case "leader":
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	case "none":
		sc.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, fmt.Errorf("kafka: invalid RequiredAcks %q", c.RequiredAcks)
	}

	// Compression
	switch c.Compression {
	case "none":
		sc.Producer.Compression = sarama.CompressionNone
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		return nil, fmt.Errorf("kafka: invalid Compression %q", c.Compression)
	}

	// Producer: callback'и строятся на каналах Successes/Errors
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Flush.Bytes = BatchBytes
	sc.Producer.MaxMessageBytes = MaxMessageBytes
	// у sarama нет лимита буфера в байтах, ограничиваем число сообщений в очереди
	sc.ChannelBufferSize = BufferBytes / BatchBytes

	// Consumer
	sc.Consumer.Return.Errors = true
	sc.Consumer.Fetch.Max = MaxMessageBytes
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest

	return sc, nil
}
