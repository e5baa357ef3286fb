// internal/job/publish.go
package job

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/kafka-relay/internal/metrics"
	"github.com/YaganovValera/kafka-relay/pkg/kafka"
	"github.com/YaganovValera/kafka-relay/pkg/logger"
	"github.com/YaganovValera/kafka-relay/pkg/telemetry"
)

// PublisherFactory создаёт издателя на время одного запуска.
type PublisherFactory interface {
	NewPublisher(ctx context.Context) (kafka.Publisher, error)
}

// PublishOptions — настройки режима write.
type PublishOptions struct {
	// SkipEmptyLines: пустые строки не отправляются.
	SkipEmptyLines bool
}

const scanInitialBuffer = 64 * 1024

// Publish отправляет каждую строку каждого файла каталога dir в topic.
// Ключ сообщения — имя файла. Подкаталоги пропускаются.
// Издатель закрывается всегда; Close ждёт подтверждения всех отправок.
func Publish(ctx context.Context, f PublisherFactory, topic, dir string, opts PublishOptions, log *logger.Logger) (err error) {
	log = log.Named("publish").With(zap.String("topic", topic), zap.String("dir", dir))

	pub, err := f.NewPublisher(ctx)
	if err != nil {
		return fmt.Errorf("create publisher: %w", err)
	}
	defer func() {
		log.Info("closing publisher, waiting for in-flight messages")
		if cerr := pub.Close(); cerr != nil {
			log.Error("publisher close failed", zap.Error(cerr))
		}
	}()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list input dir %q: %w", dir, err)
	}

	log.Info("publishing files", zap.Int("entries", len(entries)))
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		isDir, err := isDirectory(e, path)
		if err != nil {
			return fmt.Errorf("stat %q: %w", path, err)
		}
		if isDir {
			log.Debug("skipping directory", zap.String("path", path))
			continue
		}
		if err := publishFile(ctx, pub, topic, path, e.Name(), opts, log); err != nil {
			return err
		}
	}
	return nil
}

// isDirectory следует по симлинкам; битая ссылка считается файлом
// и даёт ошибку уже при открытии.
func isDirectory(e os.DirEntry, path string) (bool, error) {
	if e.IsDir() {
		return true, nil
	}
	if e.Type()&os.ModeSymlink == 0 {
		return false, nil
	}
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return fi.IsDir(), nil
}

func publishFile(
	ctx context.Context,
	pub kafka.Publisher,
	topic, path, name string,
	opts PublishOptions,
	log *logger.Logger,
) (err error) {
	ctx, span := telemetry.Tracer("kafka-relay/job").Start(ctx, "PublishFile",
		trace.WithAttributes(
			attribute.String("messaging.destination.name", topic),
			attribute.String("file.name", name),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	fh, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer fh.Close()

	key := []byte(name)
	sc := bufio.NewScanner(fh)
	sc.Buffer(make([]byte, scanInitialBuffer), kafka.MaxMessageBytes)

	sent := 0
	for sc.Scan() {
		line := sc.Bytes()
		if opts.SkipEmptyLines && len(line) == 0 {
			continue
		}
		// буфер сканера переиспользуется, а драйвер держит значение до отправки
		value := append([]byte(nil), line...)
		msg := kafka.Message{Topic: topic, Key: key, Value: value}
		if err := pub.Publish(ctx, msg, deliveryLogger(log, name)); err != nil {
			return fmt.Errorf("publish line from %q: %w", path, err)
		}
		metrics.MessagesSent.Inc()
		sent++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %q: %w", path, err)
	}

	metrics.FilesProcessed.Inc()
	span.SetAttributes(attribute.Int("messages.sent", sent))
	log.Info("file processed", zap.String("file", name), zap.Int("sent", sent))
	return nil
}

// deliveryLogger логирует результат каждой отправки; ничего не ретраит.
func deliveryLogger(log *logger.Logger, file string) kafka.DeliveryFunc {
	return func(d kafka.Delivery) {
		if d.Err != nil {
			metrics.DeliveryErrors.Inc()
			log.Error("delivery failed",
				zap.String("file", file),
				zap.String("topic", d.Topic),
				zap.Error(d.Err),
			)
			return
		}
		metrics.MessagesDelivered.Inc()
		log.Info("message delivered",
			zap.String("file", file),
			zap.String("topic", d.Topic),
			zap.Int32("partition", d.Partition),
			zap.Int64("offset", d.Offset),
		)
	}
}
