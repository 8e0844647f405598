package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/zulandar/courier/internal/assistant"
	"github.com/zulandar/courier/internal/config"
	"github.com/zulandar/courier/internal/credential"
	"github.com/zulandar/courier/internal/db"
	"github.com/zulandar/courier/internal/gateway"
	"github.com/zulandar/courier/internal/history"
	"github.com/zulandar/courier/internal/logging"
	"github.com/zulandar/courier/internal/pipeline"
	"github.com/zulandar/courier/internal/platform/slack"
	"github.com/zulandar/courier/internal/registration"
	"github.com/zulandar/courier/internal/retention"
	"github.com/zulandar/courier/internal/session"
	"github.com/zulandar/courier/internal/weather"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Slack gateway",
		Long:  "Starts the HTTP gateway for Slack events, slash commands and the install flow, plus the retention janitor.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, addr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Courier config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config listen)")
	return cmd
}

// connectDB opens the database for serve; tests wrap it to observe the
// handle.
var connectDB = db.Connect

// server is everything serve wires together from a Config.
type server struct {
	gateway gateway.StartOpts
	janitor *retention.Janitor
	db      *gorm.DB
	redis   *redis.Client
	log     *slog.Logger
}

func (s *server) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Warn("serve: close redis", "error", err)
		}
	}
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func runServe(cmd *cobra.Command, configPath, addr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addr != "" {
		cfg.Listen = addr
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}

	srv, err := buildServer(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go srv.janitor.Start(ctx)
	return gateway.Start(ctx, srv.gateway)
}

// buildServer connects storage and assembles the pipeline and gateway.
// Anything opened is closed again when it fails.
func buildServer(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *server, err error) {
	gormDB, err := connectDB(cfg.Database)
	if err != nil {
		return nil, err
	}
	srv := &server{db: gormDB, log: log}
	defer func() {
		if err != nil {
			srv.Close()
		}
	}()

	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}

	creds, err := credential.NewStore(gormDB)
	if err != nil {
		return nil, err
	}
	events, err := history.NewStore(gormDB)
	if err != nil {
		return nil, err
	}

	// A turn cannot outlive its pipeline run, so the run timeout bounds how
	// long a crashed replica keeps a conversation locked.
	lockTTL := session.WithLockTTL(cfg.Pipeline.Timeout())
	var (
		store  session.Store
		pruner retention.Pruner
	)
	switch cfg.Session.Backend {
	case "redis":
		srv.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Session.Redis.Addr,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
		})
		rs, err := session.NewRedisStore(srv.redis, time.Duration(cfg.Session.Redis.TTLHours)*time.Hour, lockTTL)
		if err != nil {
			return nil, err
		}
		if err := rs.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Session.Redis.Addr, err)
		}
		store = rs
	default:
		gs, err := session.NewGormStore(gormDB, lockTTL)
		if err != nil {
			return nil, err
		}
		store, pruner = gs, gs
	}
	sessions, err := session.NewManager(store)
	if err != nil {
		return nil, err
	}
	scope, err := session.ParseScope(cfg.Session.Scope)
	if err != nil {
		return nil, err
	}

	opts := pipeline.Opts{
		Credentials: creds,
		Platform: slack.New(slack.Opts{
			APIURL: cfg.Slack.APIURL,
			Logger: log,
		}),
		Recorder:           events,
		Sessions:           sessions,
		Scope:              scope,
		Ledger:             events,
		PlaceholderChannel: cfg.Pipeline.PlaceholderChannel,
		Timeout:            cfg.Pipeline.Timeout(),
		CallTimeout:        cfg.Pipeline.CallTimeout(),
		Logger:             log,
	}
	if cfg.Assistant.Enabled() {
		a, err := assistant.NewFromConfig(cfg.Assistant)
		if err != nil {
			return nil, err
		}
		opts.Assistant = a
	}
	if cfg.Weather.URL != "" {
		w, err := weather.New(cfg.Weather.URL, nil, time.Duration(cfg.Weather.TimeoutSec)*time.Second)
		if err != nil {
			return nil, err
		}
		opts.Weather = w
	}
	pipe, err := pipeline.New(opts)
	if err != nil {
		return nil, err
	}

	srv.gateway = gateway.StartOpts{
		Opts: gateway.Opts{
			Processor:         pipe,
			VerificationToken: cfg.Slack.VerificationToken,
			SigningSecret:     cfg.Slack.SigningSecret,
			Logger:            log,
		},
		Addr: cfg.Listen,
	}
	if cfg.Slack.OAuthEnabled() {
		flow, err := registration.NewFromConfig(cfg.Slack, creds, log)
		if err != nil {
			return nil, err
		}
		srv.gateway.Installer = flow
	}

	srv.janitor, err = retention.NewFromConfig(cfg.Retention, events, pruner, log)
	if err != nil {
		return nil, err
	}
	return srv, nil
}
