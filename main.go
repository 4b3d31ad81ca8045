package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"

	"github.com/hasan-murad02/rag/internal/adapter/redis"
	"github.com/hasan-murad02/rag/internal/app"
	"github.com/hasan-murad02/rag/internal/config"
	"github.com/hasan-murad02/rag/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer deps.Close()

	var opts []app.Option
	if deps.Redis != nil {
		opts = append(opts, app.WithCache(redis.NewEmbeddingCache(deps.Redis, cfg.EmbedCacheTTL())))
		log.Info("embedding cache enabled", "addr", cfg.RedisAddr)
	}

	application, err := app.New(cfg, deps.DB, deps.VectorStore, deps.NSQProducer, log, opts...)
	if err != nil {
		return fmt.Errorf("app init: %w", err)
	}

	if cfg.EnableIngestWorker {
		consumer, err := nsq.NewConsumer(config.TopicIngestQuestions, config.ChannelIndexer, nsq.NewConfig())
		if err != nil {
			return fmt.Errorf("nsq consumer: %w", err)
		}
		consumer.AddHandler(application.IngestConsumer)
		if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
			return fmt.Errorf("connect to nsqlookupd: %w", err)
		}
		defer consumer.Stop()
		log.Info("ingest worker started", "topic", config.TopicIngestQuestions, "channel", config.ChannelIndexer)
	}

	return application.Run(ctx)
}
