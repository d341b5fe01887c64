package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Notifuse/dispatch/config"
	"github.com/Notifuse/dispatch/internal/service/batch"
	"github.com/Notifuse/dispatch/pkg/logger"
	"github.com/Notifuse/dispatch/pkg/tracing"
)

// osExit is a variable to allow mocking os.Exit in tests
var osExit = os.Exit

const usage = `Usage:
  dispatch send -recipients recipients.json -subject "Hello {{ name }}" -body body.mjml [-text body.txt] [-from addr] [-config dispatch.yaml]
  dispatch capture [-host 127.0.0.1] [-port 2525]`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Printf("dispatch: %v", err)
		osExit(1)
	}
}

// run dispatches to a command
func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	switch args[0] {
	case "send":
		return sendCommand(ctx, args[1:], stdout)
	case "capture":
		return captureCommand(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func sendCommand(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	var (
		opts       sendOptions
		configFile string
		envFile    string
	)
	fs.StringVar(&opts.RecipientsPath, "recipients", "", "JSON array of recipients")
	fs.StringVar(&opts.Template.Subject, "subject", "", "subject liquid template")
	fs.StringVar(&opts.Template.BodyPath, "body", "", "HTML or MJML body liquid template")
	fs.StringVar(&opts.Template.TextPath, "text", "", "plain text liquid template")
	fs.StringVar(&opts.Template.FromAddress, "from", "", "sender address, defaults to SMTP_FROM_EMAIL")
	fs.StringVar(&opts.Template.FromName, "from-name", "", "sender name, defaults to SMTP_FROM_NAME")
	fs.StringVar(&opts.Template.ReplyTo, "reply-to", "", "reply-to address")
	fs.StringVar(&configFile, "config", "", "YAML file with provider policy overrides")
	fs.StringVar(&envFile, "env", ".env", "environment file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if opts.RecipientsPath == "" {
		return errors.New("-recipients is required")
	}

	cfg, err := config.LoadWithOptions(config.LoadOptions{EnvFile: envFile, ConfigFile: configFile})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger := logger.NewLoggerWithLevel(cfg.LogLevel, cfg.IsDevelopment())
	if err := tracing.InitTracing(&cfg.Tracing, appLogger); err != nil {
		appLogger.WithField("error", err.Error()).Warn("Failed to initialize tracing")
	}

	result, err := runSend(ctx, cfg, opts, appLogger)
	if result != nil {
		encoder := json.NewEncoder(stdout)
		encoder.SetIndent("", "  ")
		if encodeErr := encoder.Encode(result); encodeErr != nil {
			return fmt.Errorf("failed to write result: %w", encodeErr)
		}
	}
	if err != nil && !batch.HasCode(err, batch.ErrCodeBatchCancelled) {
		return err
	}
	return nil
}

func captureCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("capture", flag.ContinueOnError)
	var (
		opts     captureOptions
		logLevel string
	)
	fs.StringVar(&opts.Host, "host", "127.0.0.1", "listen host")
	fs.IntVar(&opts.Port, "port", 2525, "listen port")
	fs.StringVar(&opts.Domain, "domain", "localhost", "server domain")
	fs.StringVar(&opts.Username, "username", "", "require PLAIN auth with this username")
	fs.StringVar(&opts.Password, "password", "", "password for -username")
	fs.StringVar(&logLevel, "log-level", "info", "log level")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return runCapture(ctx, opts, logger.NewLoggerWithLevel(logLevel, true))
}
