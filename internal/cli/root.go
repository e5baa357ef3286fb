// internal/cli/root.go
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/YaganovValera/kafka-relay/internal/config"
	"github.com/YaganovValera/kafka-relay/pkg/logger"
)

// RunFunc выполняет задание по загруженному конфигу.
type RunFunc func(ctx context.Context, cfg *config.Config, log *logger.Logger) error

// Коды выхода процесса.
const (
	ExitOK      = 0
	ExitFailure = 1
)

// runError отделяет ошибки выполнения от ошибок параметров:
// для первых usage не печатается.
type runError struct{ err error }

func (e *runError) Error() string { return e.err.Error() }
func (e *runError) Unwrap() error { return e.err }

// NewRootCommand собирает корневую cobra-команду.
func NewRootCommand(run RunFunc) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "kafka-relay -m <read|write> -t <topic> -ks <host:port[,host:port...]> [-i <dir>]",
		Short: "Publish lines of files to a Kafka topic or log messages received from it",
		Long: `kafka-relay works in one of two modes:

  write  every line of every file in --input-dir is published to --topic,
         keyed by the file name; subdirectories are skipped
  read   --topic is consumed in group "kafka-relay" and every message is logged
         until SIGINT/SIGTERM

Settings may also come from a config file (--config) and KAFKA_RELAY_* env vars.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}

			log, err := logger.New(logger.Config{Level: cfg.Logging.Level, DevMode: cfg.Logging.DevMode})
			if err != nil {
				return err
			}
			defer log.Sync()
			if cfg.Logging.DevMode {
				cfg.Print(cmd.ErrOrStderr())
			}

			ctx := cmd.Context()
			// сигналы перехватываются только в режиме read
			if cfg.Mode == config.ModeRead {
				var stop context.CancelFunc
				ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
			}

			log.Info("kafka-relay starting",
				zap.String("mode", cfg.Mode),
				zap.String("topic", cfg.Topic),
				zap.Strings("kafka_servers", cfg.KafkaServers),
				zap.String("driver", cfg.Kafka.Driver),
			)
			if err := run(ctx, cfg, log); err != nil {
				log.Error("kafka-relay failed", zap.Error(err))
				return &runError{err: err}
			}
			log.Info("kafka-relay finished")
			return nil
		},
	}

	f := cmd.Flags()
	f.SortFlags = false
	f.StringP("mode", "m", "", "mode of operation: read | write (required)")
	f.StringP("topic", "t", "", "Kafka topic (required)")
	f.String("kafka-servers", "", "Kafka bootstrap servers host:port[,host:port...] (required, alias -ks)")
	f.StringP("input-dir", "i", "", "directory with input files (required in write mode)")
	f.StringVar(&cfgFile, "config", "", "optional config file (yaml, json, toml)")
	f.String("driver", "", "Kafka client: sarama | franz | kafka-go (default sarama)")
	f.String("compression", "", "producer compression: none | gzip | snappy | lz4 | zstd (default snappy)")
	f.String("acks", "", "producer acks: all | leader | none (default leader)")
	f.String("log-level", "", "log level: debug | info | warn | error (default info)")
	f.Bool("dev", false, "human-readable console logs")
	f.String("http-addr", "", "address of the /metrics, /healthz, /readyz server (disabled if empty)")
	f.String("otel-endpoint", "", "OTLP gRPC collector host:port (tracing disabled if empty)")
	cmd.InitDefaultHelpFlag()

	return cmd
}

// Execute разбирает args, запускает run и возвращает код выхода.
func Execute(args []string, stdout, stderr io.Writer, run RunFunc) int {
	cmd := NewRootCommand(run)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	// справка печатается независимо от остальных параметров
	if wantsHelp(args) {
		_ = cmd.Help()
		return ExitOK
	}

	cmd.SetArgs(normalizeArgs(args))
	err := cmd.ExecuteContext(context.Background())
	if err == nil {
		return ExitOK
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	var re *runError
	if !errors.As(err, &re) {
		fmt.Fprint(stderr, cmd.UsageString())
	}
	return ExitFailure
}

// normalizeArgs переписывает "-ks" в "--kafka-servers": у pflag
// короткие флаги однобуквенные.
func normalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i, a := range args {
		if a == "--" {
			out = append(out, args[i:]...)
			break
		}
		switch {
		case a == "-ks":
			out = append(out, "--kafka-servers")
		case strings.HasPrefix(a, "-ks="):
			out = append(out, "--kafka-servers="+strings.TrimPrefix(a, "-ks="))
		default:
			out = append(out, a)
		}
	}
	return out
}

// wantsHelp ищет -h/--help среди флагов, не трогая значения других флагов.
func wantsHelp(args []string) bool {
	fs := NewRootCommand(nil).Flags()
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--":
			return false
		case a == "-h" || a == "--help":
			return true
		case a == "-ks":
			i++
		case strings.HasPrefix(a, "--") && !strings.Contains(a, "="):
			if takesValue(fs.Lookup(strings.TrimPrefix(a, "--"))) {
				i++
			}
		case len(a) == 2 && a[0] == '-':
			if takesValue(fs.ShorthandLookup(a[1:])) {
				i++
			}
		}
	}
	return false
}

func takesValue(f *pflag.Flag) bool {
	return f != nil && f.NoOptDefVal == ""
}
