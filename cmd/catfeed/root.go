package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/illmade-knight/go-catfeed/pkg/catfeed"
	"github.com/illmade-knight/go-catfeed/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
	validation string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "catfeed",
		Short:         "Validate and flatten batches of cat messages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.validation, "validation", "", `validation mode: "all" or "first" (overrides config)`)

	cmd.AddCommand(
		newProcessCmd(opts),
		newServeCmd(opts),
		newConsumeCmd(opts),
		newLoadgenCmd(opts),
	)
	return cmd
}

// load reads config and sets up the global logger. Logs go to stderr so the
// process command can keep stdout for its result.
func (o *rootOptions) load(stderr io.Writer) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.validation != "" {
		cfg.Validation = o.validation
	}

	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log.Logger = logger
	return cfg, logger, nil
}

func newLogger(cfg *config.Config, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := w
	switch cfg.LogFormat {
	case "console":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
	default:
		if isTerminal(w) {
			out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func newProcessor(cfg *config.Config, logger zerolog.Logger) (*catfeed.Processor, error) {
	mode, err := cfg.ValidationMode()
	if err != nil {
		return nil, err
	}
	return catfeed.NewProcessor(catfeed.ProcessorConfig{Validation: mode}, logger), nil
}
