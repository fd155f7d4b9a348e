package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harunnryd/tutur/pkg/runner"
	"github.com/harunnryd/tutur/pkg/tokenserver"
)

var serveTokenCmd = &cobra.Command{
	Use:   "serve-token",
	Short: "Run the development speech token endpoint",
	Args:  cobra.NoArgs,
	RunE:  runServeToken,
}

func init() {
	serveTokenCmd.Flags().String("addr", "", "Listen address (overrides token_server.addr)")
}

func runServeToken(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		cfg.TokenServer.Addr = v
	}
	if err := cfg.ValidateTokenServer(); err != nil {
		return err
	}

	srv, err := tokenserver.New(tokenserver.Config{
		Addr:           cfg.TokenServer.Addr,
		Secret:         cfg.TokenServer.Secret,
		Region:         cfg.TokenServer.Region,
		TTL:            time.Duration(cfg.TokenServer.TTLMS) * time.Millisecond,
		AllowedOrigins: cfg.TokenServer.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	lr := runner.NewLifecycleRunner(srv, runner.Hooks{
		OnStart: func() error {
			go func() { serveErr <- srv.Serve() }()
			// Surface bind failures before reporting the server as running.
			select {
			case err := <-serveErr:
				return err
			case <-time.After(100 * time.Millisecond):
				return nil
			}
		},
		OnStop: func() { logger.Info("token_server_stopped") },
	}, 10*time.Second)
	lr.Banner = cmd.ErrOrStderr()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		if err := <-serveErr; err != nil {
			logger.Error("token_server_failed", slog.String("error", err.Error()))
			stop()
		}
	}()
	return lr.Run(ctx)
}
