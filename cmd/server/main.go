package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"tablegate/internal/app"
	"tablegate/internal/config"
	"tablegate/internal/logging"
	"tablegate/internal/tableconf"
)

func main() {
	cmd := &cli.Command{
		Name:  "tablegate",
		Usage: "Serve REST, GraphQL and WebSocket endpoints for database tables",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "process config file (YAML)", Value: "tablegate.yaml"},
			&cli.StringFlag{Name: "listen", Usage: "listen address (host:port)"},
			&cli.StringFlag{Name: "tables", Aliases: []string{"t"}, Usage: "tables document (YAML)"},
			&cli.StringFlag{Name: "database-url", Usage: "overrides database.url of the tables document"},
			&cli.StringFlag{Name: "redis-url", Usage: "redis cache URL when the document names none"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "log-format", Usage: "json or console"},
			&cli.StringFlag{Name: "gin-mode", Usage: "debug, release or test"},
			&cli.DurationFlag{Name: "shutdown-timeout", Usage: "grace period for in-flight requests"},
			&cli.StringSliceFlag{Name: "cors-origin", Usage: "origin allowed by CORS (repeatable, * for any)"},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:      "check",
				Usage:     "Validate a tables document and exit",
				ArgsUsage: "[tables.yaml]",
				Action:    check,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// settings layers flags over the config file and environment.
func settings(cmd *cli.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return cfg, err
	}
	for name, dst := range map[string]*string{
		"listen":       &cfg.Listen,
		"tables":       &cfg.Tables,
		"database-url": &cfg.DatabaseURL,
		"redis-url":    &cfg.RedisURL,
		"log-level":    &cfg.LogLevel,
		"log-format":   &cfg.LogFormat,
		"gin-mode":     &cfg.GinMode,
	} {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}
	if cmd.IsSet("cors-origin") {
		cfg.CORSOrigins = cmd.StringSlice("cors-origin")
	}
	if cmd.IsSet("shutdown-timeout") {
		cfg.ShutdownTimeout = cmd.Duration("shutdown-timeout")
	}
	return cfg, cfg.Validate()
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := settings(cmd)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, app.Options{Config: cfg, Log: log})
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close failed", zap.Error(err))
		}
	}()
	return a.Run(ctx)
}

func check(_ context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		cfg, err := settings(cmd)
		if err != nil {
			return err
		}
		path = cfg.Tables
	}
	doc, err := tableconf.Load(path)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d tables OK\n", path, len(doc.Tables))
	return nil
}
