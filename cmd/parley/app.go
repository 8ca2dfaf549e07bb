package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/adapters/file"
	"github.com/aretw0/parley/pkg/adapters/memory"
	redisadapter "github.com/aretw0/parley/pkg/adapters/redis"
	"github.com/aretw0/parley/pkg/config"
	"github.com/aretw0/parley/pkg/persistence/middleware"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// app holds the adapters selected by the configuration.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	store     ports.CheckpointStore
	transport ports.Transport
	locker    ports.DistributedLocker

	client *redis.Client
}

func setup(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logging.NewWithWriter(os.Stderr, level, cfg.LogFormat == "json"),
	}

	if cfg.Store.Driver == config.DriverRedis || cfg.Transport.Driver == config.DriverRedis {
		a.client = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.locker = redisadapter.NewLocker(a.client, cfg.Redis.Prefix)
	}

	var base ports.CheckpointStore
	switch cfg.Store.Driver {
	case config.DriverFile:
		base = file.New(cfg.Store.Path)
	case config.DriverRedis:
		base = redisadapter.NewFromClient(a.client,
			redisadapter.WithPrefix(cfg.Redis.Prefix+"checkpoint:"),
			redisadapter.WithTTL(cfg.Redis.TTL),
		)
	default:
		base = memory.NewStore()
	}

	var mws []middleware.Middleware
	active, fallback, err := cfg.Store.Keys()
	if err != nil {
		return nil, err
	}
	if active != nil {
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallback,
		}))
	}
	if len(cfg.Store.MaskPatterns) > 0 {
		mws = append(mws, middleware.NewPIIMiddleware(cfg.Store.MaskPatterns))
	}
	a.store = middleware.Chain(base, mws...)

	switch cfg.Transport.Driver {
	case config.DriverRedis:
		a.transport = redisadapter.NewStream(a.client,
			redisadapter.WithStreamPrefix(cfg.Redis.Prefix+"bus:"),
			redisadapter.WithConsumer(cfg.Transport.Consumer),
			redisadapter.WithBlock(cfg.Transport.Block),
			redisadapter.WithMaxLen(cfg.Transport.MaxLen),
		)
	default:
		a.transport = memory.NewBus()
	}

	a.logger.Debug("configuration loaded",
		"store", cfg.Store.Driver,
		"transport", cfg.Transport.Driver,
		"sealed", active != nil,
	)
	return a, nil
}

func (a *app) Close() {
	if a.client == nil {
		return
	}
	if err := a.client.Close(); err != nil {
		a.logger.Warn("failed to close redis client", "error", err)
	}
}

func mustSetup(cmd *cobra.Command) *app {
	a, err := setup(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	return a
}
