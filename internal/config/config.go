// internal/config/config.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/YaganovValera/kafka-relay/pkg/backoff"
	"github.com/YaganovValera/kafka-relay/pkg/kafka"
)

// ErrInvalid оборачивает все ошибки валидации конфигурации.
var ErrInvalid = errors.New("invalid configuration")

// Режимы работы.
const (
	ModeRead  = "read"
	ModeWrite = "write"
)

// EnvPrefix — префикс переменных окружения.
const EnvPrefix = "KAFKA_RELAY"

// -----------------------------------------------------------------------------
// Структуры
// -----------------------------------------------------------------------------

// Config — все настройки запуска. После Load не меняется.
type Config struct {
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`

	Mode         string   `mapstructure:"mode"`
	Topic        string   `mapstructure:"topic"`
	KafkaServers []string `mapstructure:"kafka_servers"`
	InputDir     string   `mapstructure:"input_dir"`

	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

type KafkaConfig struct {
	Driver      string         `mapstructure:"driver"`
	Compression string         `mapstructure:"compression"`
	Acks        string         `mapstructure:"acks"`
	Backoff     backoff.Config `mapstructure:"backoff"`
}

type PublishConfig struct {
	SkipEmptyLines bool `mapstructure:"skip_empty_lines"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otel_endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	SamplerRatio float64 `mapstructure:"sampler_ratio"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	DevMode bool   `mapstructure:"dev_mode"`
}

// HTTPConfig — ops-сервер; пустой Addr отключает его.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ReadyTimeout    time.Duration `mapstructure:"ready_timeout"`
	MetricsPath     string        `mapstructure:"metrics_path"`
	HealthzPath     string        `mapstructure:"healthz_path"`
	ReadyzPath      string        `mapstructure:"readyz_path"`
}

// FlagKeys связывает имена флагов командной строки с ключами конфига.
var FlagKeys = map[string]string{
	"mode":          "mode",
	"topic":         "topic",
	"kafka-servers": "kafka_servers",
	"input-dir":     "input_dir",
	"driver":        "kafka.driver",
	"compression":   "kafka.compression",
	"acks":          "kafka.acks",
	"log-level":     "logging.level",
	"dev":           "logging.dev_mode",
	"http-addr":     "http.addr",
	"otel-endpoint": "telemetry.otel_endpoint",
}

// -----------------------------------------------------------------------------
// Load
// -----------------------------------------------------------------------------

// Load собирает конфиг: defaults → файл (если path не пуст) → ENV → флаги.
// flags может быть nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	/* ---------- 1) defaults ---------- */

	v.SetDefault("service_name", "kafka-relay")
	v.SetDefault("service_version", "v1.0.0")

	v.SetDefault("mode", "")
	v.SetDefault("topic", "")
	v.SetDefault("kafka_servers", []string{})
	v.SetDefault("input_dir", "")

	// Kafka
	v.SetDefault("kafka.driver", kafka.DriverSarama)
	v.SetDefault("kafka.compression", "snappy")
	v.SetDefault("kafka.acks", "leader")
	v.SetDefault("kafka.backoff.initial_interval", "500ms")
	v.SetDefault("kafka.backoff.randomization_factor", 0.5)
	v.SetDefault("kafka.backoff.multiplier", 2.0)
	v.SetDefault("kafka.backoff.max_interval", "5s")
	v.SetDefault("kafka.backoff.max_elapsed_time", "30s")
	v.SetDefault("kafka.backoff.per_attempt_timeout", "0s")

	// Publish
	v.SetDefault("publish.skip_empty_lines", false)

	// Telemetry
	v.SetDefault("telemetry.otel_endpoint", "")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.sampler_ratio", 1.0)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dev_mode", false)

	// HTTP
	v.SetDefault("http.addr", "")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "5s")
	v.SetDefault("http.ready_timeout", "3s")
	v.SetDefault("http.metrics_path", "/metrics")
	v.SetDefault("http.healthz_path", "/healthz")
	v.SetDefault("http.readyz_path", "/readyz")

	/* ---------- 2) env ---------- */

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	/* ---------- 3) optional file ---------- */

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	/* ---------- 4) flags ---------- */

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %q: %w", name, err)
				}
			}
		}
	}

	/* ---------- 5) decode ---------- */

	var cfg Config
	if err := decode(v.AllSettings(), &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()

	/* ---------- 6) validation ---------- */

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(input map[string]interface{}, target interface{}) error {
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToBoolHook,
	)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "mapstructure",
		Result:     target,
		DecodeHook: hook,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// stringToBoolHook разбирает true/false, иначе отдает исходные данные.
func stringToBoolHook(f, t reflect.Kind, data interface{}) (interface{}, error) {
	if f == reflect.String && t == reflect.Bool {
		return strconv.ParseBool(data.(string))
	}
	return data, nil
}

func (c *Config) normalize() {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	c.Topic = strings.TrimSpace(c.Topic)
	c.KafkaServers = kafka.ParseBrokers(c.KafkaServers...)
	c.Kafka.Driver = strings.ToLower(c.Kafka.Driver)
	c.Kafka.Compression = strings.ToLower(c.Kafka.Compression)
	c.Kafka.Acks = strings.ToLower(c.Kafka.Acks)
	c.Logging.Level = strings.ToLower(c.Logging.Level)
}

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate проверяет обязательные параметры и допустимые значения.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeRead, ModeWrite:
	case "":
		return invalid("mode is required (read|write)")
	default:
		return invalid("mode must be one of [read, write], got %q", c.Mode)
	}
	if c.Topic == "" {
		return invalid("topic is required")
	}
	if len(c.KafkaServers) == 0 {
		return invalid("kafka servers are required")
	}
	if c.Mode == ModeWrite && strings.TrimSpace(c.InputDir) == "" {
		return invalid("input dir is required in write mode")
	}

	// Kafka
	switch c.Kafka.Driver {
	case kafka.DriverSarama, kafka.DriverFranz, kafka.DriverKafkaGo:
	default:
		return invalid("kafka.driver must be one of [sarama, franz, kafka-go]")
	}
	switch c.Kafka.Acks {
	case "all", "leader", "none":
	default:
		return invalid("kafka.acks must be one of [all, leader, none]")
	}
	switch c.Kafka.Compression {
	case "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return invalid("kafka.compression must be one of [none, gzip, snappy, lz4, zstd]")
	}

	// Logging
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level must be one of [debug, info, warn, error]")
	}

	// Telemetry
	if c.Telemetry.SamplerRatio < 0 || c.Telemetry.SamplerRatio > 1 {
		return invalid("telemetry.sampler_ratio must be in [0,1]")
	}

	// HTTP
	if c.HTTP.Addr != "" {
		if err := validateHTTP(&c.HTTP); err != nil {
			return err
		}
	}
	return nil
}

func validateHTTP(h *HTTPConfig) error {
	durations := map[string]time.Duration{
		"http.read_timeout":     h.ReadTimeout,
		"http.write_timeout":    h.WriteTimeout,
		"http.idle_timeout":     h.IdleTimeout,
		"http.shutdown_timeout": h.ShutdownTimeout,
		"http.ready_timeout":    h.ReadyTimeout,
	}
	for k, d := range durations {
		if d <= 0 {
			return invalid("%s must be > 0", k)
		}
	}
	paths := map[string]string{
		"http.metrics_path": h.MetricsPath,
		"http.healthz_path": h.HealthzPath,
		"http.readyz_path":  h.ReadyzPath,
	}
	for k, p := range paths {
		if !strings.HasPrefix(p, "/") {
			return invalid("%s must start with '/'", k)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Debug print
// -----------------------------------------------------------------------------

// Print выводит текущий конфиг в JSON (удобно в DevMode).
func (c *Config) Print(w io.Writer) {
	b, _ := json.MarshalIndent(c, "", "  ")
	fmt.Fprintln(w, "Loaded configuration:\n", string(b))
}
