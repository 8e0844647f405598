// Package gateway is the HTTP front door: Slack event callbacks, slash
// commands, the install flow and a health check.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/courier/internal/credential"
	"github.com/zulandar/courier/internal/logging"
	"github.com/zulandar/courier/internal/pipeline"
)

const shutdownTimeout = 10 * time.Second

// Processor runs events and slash commands.
type Processor interface {
	Process(ctx context.Context, ev pipeline.Event) (*pipeline.Result, error)
	Command(ctx context.Context, cmd pipeline.SlashCommand) (string, error)
}

// Installer drives the OAuth install flow.
type Installer interface {
	AuthURL(state string) string
	Complete(ctx context.Context, code string) (*credential.Credential, error)
}

// Opts configures the router.
type Opts struct {
	Processor         Processor // required
	VerificationToken string    // required
	SigningSecret     string    // optional; enables request signature checks
	Installer         Installer // optional; nil disables /slack/install and /slack/oauth
	Logger            *slog.Logger
}

// StartOpts holds configuration for the gateway server.
type StartOpts struct {
	Opts
	Addr string
}

// NewRouter builds the gin engine serving all routes.
func NewRouter(opts Opts) (*gin.Engine, error) {
	if opts.Processor == nil {
		return nil, fmt.Errorf("gateway: processor is required")
	}
	if opts.VerificationToken == "" {
		return nil, fmt.Errorf("gateway: verification token is required")
	}
	h := &handler{
		proc:          opts.Processor,
		token:         opts.VerificationToken,
		signingSecret: opts.SigningSecret,
		installer:     opts.Installer,
		log:           logging.OrDefault(opts.Logger),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.log))
	registerRoutes(router, h)
	return router, nil
}

// Start launches the gateway HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts.Opts)
	if err != nil {
		return err
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	log := logging.OrDefault(opts.Logger)

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn("gateway: shutdown", "error", err)
		}
	}()

	log.Info("gateway: listening", "addr", opts.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}
