// Package cli implements the ironmq command.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/guestful/ironmq/internal/config"
	"github.com/guestful/ironmq/internal/journal"
	"github.com/guestful/ironmq/pkg/ironmq"
)

// app carries the state shared by every subcommand of one invocation.
type app struct {
	cfgPath string
	debug   bool

	cfg    *config.Config
	logger *slog.Logger

	// Overridden by tests.
	httpClient *http.Client
	registry   prometheus.Registerer
	gatherer   prometheus.Gatherer
}

func newApp() *app {
	return &app{
		registry: prometheus.DefaultRegisterer,
		gatherer: prometheus.DefaultGatherer,
	}
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(newApp()).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "ironmq",
		Short: "IronMQ command-line client",
		Long: `ironmq talks to an IronMQ project: it lists and manages queues, puts and
reserves messages and runs long-lived pollers that print every message they
consume.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "ironmq.yaml", "config file")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newQueuesCmd(a),
		newSizeCmd(a),
		newCreateQueueCmd(a),
		newDeleteQueueCmd(a),
		newOfferCmd(a),
		newPollCmd(a),
		newConsumeCmd(a),
		newReplayCmd(a),
		newSettingsCmd(a),
		newJournalCmd(a),
	)
	return root
}

// init loads .env and the config file and installs the default logger.
func (a *app) init(logOut io.Writer) error {
	_ = godotenv.Load()

	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if a.debug {
		cfg.Log.Level = "debug"
	}
	a.cfg = cfg
	a.logger = newLogger(cfg.Log, logOut)
	slog.SetDefault(a.logger)
	return nil
}

// newLogger returns a tint handler for terminals or a JSON handler for log
// shippers. An unknown level falls back to info.
func newLogger(lc config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))
}

// connect validates the config and returns the configured project. The
// returned func releases the dry-run journal, if one was opened.
func (a *app) connect() (*ironmq.Project, func(), error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	s, err := a.cfg.Settings.Build()
	if err != nil {
		return nil, nil, err
	}

	opts := []ironmq.Option{
		ironmq.WithBaseURL(a.cfg.Client.BaseURL),
		ironmq.WithTimeout(a.cfg.Client.Timeout.Std()),
		ironmq.WithUserAgent(a.cfg.Client.UserAgent),
		ironmq.WithLogger(a.logger),
		ironmq.WithRateLimit(a.cfg.Client.RateLimit, a.cfg.Client.Burst),
	}
	if a.httpClient != nil {
		opts = append(opts, ironmq.WithHTTPClient(a.httpClient))
	}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, ironmq.WithMetrics(a.registry))
	}

	release := func() {}
	if !a.cfg.Client.Enabled {
		j, err := journal.Open(a.cfg.Client.JournalPath)
		if err != nil {
			return nil, nil, err
		}
		a.logger.Info("client disabled, requests are journaled", "path", a.cfg.Client.JournalPath)
		opts = append(opts, ironmq.WithDisabled(j))
		release = func() {
			if err := j.Close(); err != nil {
				a.logger.Warn("close journal", "err", err)
			}
		}
	}

	client := ironmq.New(opts...)
	return client.ProjectWithSettings(a.cfg.Project.ID, a.cfg.Project.Token, s), release, nil
}
