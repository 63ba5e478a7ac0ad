package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/directory"
	"github.com/parley-chat/parley/internal/history"
	"github.com/parley-chat/parley/internal/logging"
	"github.com/parley-chat/parley/internal/server"
	"github.com/parley-chat/parley/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML/JSON config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // best-effort flush

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir, msgs, cleanup, err := buildStores(ctx, cfg)
	if err != nil {
		logger.Fatal("init durable store", zap.Error(err))
	}
	defer cleanup()

	logger.Info("durable store ready", zap.String("backend", cfg.Store.Backend))

	node := server.NewNode(cfg, logger, dir, msgs)
	if err := node.Start(ctx); err != nil {
		logger.Fatal("node exited with error", zap.Error(err))
	}
}

func buildStores(ctx context.Context, cfg config.Config) (directory.Directory, history.Store, func(), error) {
	noop := func() {}
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return directory.NewInMemory(), history.NewInMemory(), noop, nil
	case config.BackendSQLite:
		db, err := store.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, noop, err
		}
		return db, db, func() { _ = db.Close() }, nil
	case config.BackendDynamo:
		var optFns []func(*awsconfig.LoadOptions) error
		if cfg.Store.Dynamo.Region != "" {
			optFns = append(optFns, awsconfig.WithRegion(cfg.Store.Dynamo.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("load aws config: %w", err)
		}
		db := store.NewDynamo(dynamodb.NewFromConfig(awsCfg), cfg.Store.Dynamo.UsersTable, cfg.Store.Dynamo.MessagesTable)
		return db, db, noop, nil
	default:
		return nil, nil, noop, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
