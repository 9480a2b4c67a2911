// Package main is the prime CLI: the gateway server plus the operator
// verbs that run against the same database and HTTP surface.
//
// Start the platform:
//
//	prime start --config prime.yaml
//
// Seed a first organization, admin, provider, and agent:
//
//	prime onboard --auto
//
// Inspect a running instance:
//
//	prime status
//	prime gateway health
//	prime pairing list
//
// Configuration comes from the YAML file plus environment variables
// (DATABASE_URL, JWT_SECRET, TELEGRAM_BOT_TOKENS, provider API keys,
// and friends). Exit codes: 0 on success, 1 on operational failure,
// 2 on usage errors.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var flagConfig string

// usageError marks errors that should exit with code 2.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		var uerr *usageError
		if errors.As(err, &uerr) || strings.HasPrefix(err.Error(), "unknown command") {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "prime",
		Short: "Prime - multi-tenant AI agent platform",
		Long: `Prime routes messenger traffic to AI agents, executes approved
commands on remote nodes, and serves a WebSocket control plane.

Channels: Telegram, Slack, WhatsApp
Providers: OpenAI-compatible, Anthropic, local shell`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", defaultConfigPath(), "path to the configuration file")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	root.AddCommand(
		buildStartCmd(),
		buildStopCmd(),
		buildStatusCmd(),
		buildDoctorCmd(),
		buildLogsCmd(),
		buildOnboardCmd(),
		buildGatewayCmd(),
		buildChannelsCmd(),
		buildNodesCmd(),
		buildMemoryCmd(),
		buildPairingCmd(),
		buildCronCmd(),
		buildWebhooksCmd(),
		buildAuthCmd(),
	)
	return root
}

func defaultConfigPath() string {
	if v := os.Getenv("PRIME_CONFIG"); v != "" {
		return v
	}
	return "prime.yaml"
}

// newLogger builds the process logger from the logging section.
func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
