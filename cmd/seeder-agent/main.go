package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/seeder-control/seeder-agent/internal/config"
	"github.com/seeder-control/seeder-agent/internal/hostinfo"
	"github.com/seeder-control/seeder-agent/internal/liveness"
	"github.com/seeder-control/seeder-agent/internal/router"
	"github.com/seeder-control/seeder-agent/internal/session"
	"github.com/seeder-control/seeder-agent/internal/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath string
		server     string
		authToken  string
		logLevel   string
	)
	flagSet := pflag.NewFlagSet("seeder-agent", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "config.yaml", "path to config file (optional)")
	flagSet.StringVar(&server, "server", "", "control server URL, e.g. wss://host:port")
	flagSet.StringVar(&authToken, "authtoken", "", "auth token for the control server")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	showVersion := flagSet.Bool("version", false, "print version and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println(version.Splash())
		return nil
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flagSet.Changed("server") {
		cfg.Server.URL = server
	}
	if flagSet.Changed("authtoken") {
		cfg.Server.Token = authToken
	}
	if flagSet.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := cfg.LogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logger.Info(version.Splash())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	host, err := hostinfo.Detect(ctx)
	if err != nil {
		return err
	}
	logger.Info("host detected", "hostname", host.Hostname, "os", host.OS, "platform", host.Platform)

	cc := session.NewConnectionConfig(cfg, host, version.Version)
	sess, err := session.Open(ctx, cc, router.New(logger), logger)
	if err != nil {
		return fmt.Errorf("socket.io connection failed catastrophically: %w", err)
	}
	defer sess.Close()

	loop := liveness.New(cfg.Agent.HeartbeatInterval, logger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		select {
		case <-sess.Done():
			logger.Warn("control server session ended; agent stays up for supervision")
		case <-gctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutting down")
	return nil
}
