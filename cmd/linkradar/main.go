// Package main wires together the LinkRadar service: the bookmark API,
// the archival worker pool, and their backing stores.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/steveclarke/link-radar-sub004/internal/api"
	"github.com/steveclarke/link-radar-sub004/internal/archive"
	"github.com/steveclarke/link-radar-sub004/internal/archiver"
	"github.com/steveclarke/link-radar-sub004/internal/bookmarks"
	"github.com/steveclarke/link-radar-sub004/internal/clock/system"
	"github.com/steveclarke/link-radar-sub004/internal/config"
	"github.com/steveclarke/link-radar-sub004/internal/extractor"
	"github.com/steveclarke/link-radar-sub004/internal/fetcher"
	"github.com/steveclarke/link-radar-sub004/internal/id/uuid"
	"github.com/steveclarke/link-radar-sub004/internal/logging"
	"github.com/steveclarke/link-radar-sub004/internal/metrics"
	pubsubPublisher "github.com/steveclarke/link-radar-sub004/internal/publisher/pubsub"
	queueMemory "github.com/steveclarke/link-radar-sub004/internal/queue/memory"
	"github.com/steveclarke/link-radar-sub004/internal/storage/gcs"
	memoryStorage "github.com/steveclarke/link-radar-sub004/internal/storage/memory"
	"github.com/steveclarke/link-radar-sub004/internal/storage/postgres"
	"github.com/steveclarke/link-radar-sub004/internal/validator"
	"github.com/steveclarke/link-radar-sub004/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	clock := system.New()
	idGen := uuid.New()

	var store archive.Store
	var ready api.ReadyFunc
	if cfg.Database.DSN != "" {
		pgStore, err := postgres.Connect(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns, clock)
		if err != nil {
			logger.Fatal("connect database", zap.Error(err))
		}
		defer pgStore.Close()
		if err := pgStore.Migrate(ctx); err != nil {
			logger.Fatal("migrate database", zap.Error(err))
		}
		store = pgStore
		ready = pgStore.Ping
	} else {
		logger.Warn("no database configured, using in-memory store")
		store = memoryStorage.New()
	}

	var blobs archive.BlobStore
	if cfg.Snapshots.Bucket != "" {
		gcsClient, err := storage.NewClient(ctx)
		if err != nil {
			logger.Fatal("create storage client", zap.Error(err))
		}
		defer gcsClient.Close()
		blobs, err = gcs.New(gcsClient, gcs.Config{
			Bucket: cfg.Snapshots.Bucket,
			Prefix: cfg.Snapshots.Prefix,
		})
		if err != nil {
			logger.Fatal("create blob store", zap.Error(err))
		}
	}

	var publisher archive.Publisher
	if cfg.PubSub.Project != "" {
		psub, err := pubsubPublisher.New(ctx, cfg.PubSub.Project)
		if err != nil {
			logger.Fatal("create pubsub publisher", zap.Error(err))
		}
		defer psub.Close()
		publisher = psub
	}

	queue := queueMemory.New(cfg.Workers.QueueSize)

	userAgent := cfg.Archiver.UserAgent
	if cfg.Archiver.ContactURL != "" {
		userAgent = fmt.Sprintf("%s (+%s)", userAgent, cfg.Archiver.ContactURL)
	}
	fetch := fetcher.New(fetcher.Config{
		ConnectTimeout: cfg.Archiver.ConnectTimeout,
		ReadTimeout:    cfg.Archiver.ReadTimeout,
		MaxRedirects:   cfg.Archiver.MaxRedirects,
		MaxContentSize: int64(cfg.Archiver.MaxContentSize),
		UserAgent:      userAgent,
	}, fetcher.SafeDialGuard(), logger.Named("fetcher"))

	arch := archiver.New(
		store,
		validator.New(nil, logger.Named("validator")),
		fetch,
		extractor.New(logger.Named("extractor")),
		blobs,
		publisher,
		clock,
		archiver.Config{Topic: cfg.PubSub.Topic},
		logger.Named("archiver"),
	)

	pool := worker.NewPool(cfg.Workers.Count, store, queue, arch, worker.Config{
		MaxAttempts: cfg.Archiver.MaxRetries,
		BackoffBase: cfg.Archiver.RetryBackoffBase,
	}, logger.Named("worker"))

	svc := bookmarks.New(store, queue, idGen, clock, bookmarks.Config{
		ArchivalEnabled: cfg.Archiver.Enabled,
	}, logger.Named("bookmarks"))

	apiServer := api.NewServer(svc, store, ready, logger.Named("api"))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	poolDone := make(chan struct{})
	go func() {
		logger.Info("worker pool started", zap.Int("count", cfg.Workers.Count))
		pool.Run(ctx)
		close(poolDone)
	}()

	go func() {
		logger.Info("http server started", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	<-poolDone
	logger.Info("shutdown complete")
}
