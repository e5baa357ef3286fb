// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YaganovValera/kafka-relay/internal/config"
	httpserver "github.com/YaganovValera/kafka-relay/internal/http"
	"github.com/YaganovValera/kafka-relay/internal/job"
	"github.com/YaganovValera/kafka-relay/internal/metrics"
	"github.com/YaganovValera/kafka-relay/pkg/kafka"
	"github.com/YaganovValera/kafka-relay/pkg/logger"
	"github.com/YaganovValera/kafka-relay/pkg/telemetry"
)

const telemetryShutdownTimeout = 5 * time.Second

// Run поднимает окружение (метрики, трассировку, ops-сервер) и выполняет
// задание выбранного режима.
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	InitServiceName(cfg.ServiceName)
	metrics.Register()

	// Трассировка (опционально)
	if cfg.Telemetry.OTLPEndpoint != "" {
		shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.Config{
			Endpoint:       cfg.Telemetry.OTLPEndpoint,
			ServiceName:    cfg.ServiceName,
			ServiceVersion: cfg.ServiceVersion,
			Insecure:       cfg.Telemetry.Insecure,
			SamplerRatio:   cfg.Telemetry.SamplerRatio,
		}, log)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer shutdownSafe(ctx, "telemetry", func() error {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryShutdownTimeout)
			defer cancel()
			return shutdownTracer(sctx)
		}, log)
	}

	factory, err := kafka.NewFactory(kafka.Config{
		Driver:       cfg.Kafka.Driver,
		Brokers:      cfg.KafkaServers,
		Compression:  cfg.Kafka.Compression,
		RequiredAcks: cfg.Kafka.Acks,
		Backoff:      cfg.Kafka.Backoff,
	}, log)
	if err != nil {
		return fmt.Errorf("kafka factory: %w", err)
	}

	runJob := func(ctx context.Context) error {
		switch cfg.Mode {
		case config.ModeWrite:
			return job.Publish(ctx, factory, cfg.Topic, cfg.InputDir,
				job.PublishOptions{SkipEmptyLines: cfg.Publish.SkipEmptyLines}, log)
		case config.ModeRead:
			return job.Subscribe(ctx, factory, cfg.Topic, log)
		}
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}

	if cfg.HTTP.Addr == "" {
		return runJob(ctx)
	}

	srv, err := httpserver.NewServer(httpserver.Config{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		ReadyTimeout:    cfg.HTTP.ReadyTimeout,
		MetricsPath:     cfg.HTTP.MetricsPath,
		HealthzPath:     cfg.HTTP.HealthzPath,
		ReadyzPath:      cfg.HTTP.ReadyzPath,
	}, factory.Ping, nil, log)
	if err != nil {
		return fmt.Errorf("http server init: %w", err)
	}

	// ops-сервер живёт, пока выполняется задание
	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stopSrv := context.WithCancel(gctx)
	g.Go(func() error { return srv.Start(srvCtx) })
	g.Go(func() error {
		defer stopSrv()
		return runJob(gctx)
	})
	return g.Wait()
}

// shutdownSafe оборачивает вызов Close()/Shutdown() с логированием
func shutdownSafe(ctx context.Context, name string, fn func() error, log *logger.Logger) {
	log.WithContext(ctx).Info(fmt.Sprintf("%s: shutting down", name))
	if err := fn(); err != nil {
		log.WithContext(ctx).Error(fmt.Sprintf("%s shutdown error", name), zap.Error(err))
	} else {
		log.WithContext(ctx).Info(fmt.Sprintf("%s: shutdown complete", name))
	}
}
