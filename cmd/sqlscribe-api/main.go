package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sqlscribe/sqlscribe/internal/api"
	"github.com/sqlscribe/sqlscribe/internal/api/uistatic"
	"github.com/sqlscribe/sqlscribe/internal/auth"
	"github.com/sqlscribe/sqlscribe/internal/completion"
	"github.com/sqlscribe/sqlscribe/internal/config"
	"github.com/sqlscribe/sqlscribe/internal/correction"
	"github.com/sqlscribe/sqlscribe/internal/execution"
	"github.com/sqlscribe/sqlscribe/internal/journal"
	"github.com/sqlscribe/sqlscribe/internal/observability"
	"github.com/sqlscribe/sqlscribe/internal/pipeline"
	"github.com/sqlscribe/sqlscribe/internal/schema"
	s3store "github.com/sqlscribe/sqlscribe/internal/storage/s3"
	"github.com/sqlscribe/sqlscribe/internal/store/sqlstore"
)

func main() {
	cfg, err := config.LoadFromEnv("sqlscribe-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	db, err := sqlstore.Open(sqlstore.Config{
		Driver:          cfg.DB.Driver,
		DSN:             cfg.DB.DSN,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxIdleTime: cfg.DB.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		QueryTimeout:    cfg.DB.QueryTimeout,
	})
	if err != nil {
		logger.Error("invalid database configuration", slog.String("driver", cfg.DB.Driver), slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	if cfg.DB.Database != "" {
		db.SetDatabaseName(cfg.DB.Database)
	}

	// An unreachable database is not fatal: /health and /ready report it and
	// POST /refresh-schema loads the schema once the server is back.
	registry := schema.NewRegistry(db, logger)
	refreshCtx, cancelRefresh := context.WithTimeout(context.Background(), 30*time.Second)
	if snapshot, err := registry.Refresh(refreshCtx); err != nil {
		logger.Error("initial schema load failed; questions will be rejected until /refresh-schema succeeds", slog.Any("error", err))
	} else {
		logger.Info("schema loaded",
			slog.String("database", db.DatabaseName()),
			slog.Int("tables", snapshot.Len()),
			slog.Any("table_names", snapshot.TableNames()),
		)
	}
	cancelRefresh()

	completionClient, err := completion.New(completion.Config{
		Provider:    cfg.AI.Provider,
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize completion client", slog.Any("error", err))
		os.Exit(1)
	}

	pipelineDeps := pipeline.Dependencies{
		Schema:      registry,
		Completion:  completionClient,
		Corrections: correction.NewEngine(nil),
		Runner:      execution.NewCoordinator(db, registry, cfg.Pipeline.MaxRetries, logger),
		Logger:      logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	readiness := []api.ReadinessCheck{
		api.CheckPing("database", db),
		api.CheckSchemaLoaded(registry),
	}
	var (
		attemptJournal *journal.Journal
		background     sync.WaitGroup
	)
	if cfg.Journal.Enabled {
		objectStore, err := s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		attemptJournal = journal.New(objectStore, journal.Config{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			MaxPending:    cfg.Journal.MaxPending,
		}, logger)
		pipelineDeps.Journal = attemptJournal
		readiness = append(readiness, api.CheckObjectStoreConfig(cfg), api.CheckPing("object store", objectStore))

		background.Add(1)
		go func() {
			defer background.Done()
			_ = attemptJournal.Run(ctx)
		}()
	}

	questions, err := pipeline.New(pipelineDeps, pipeline.Config{
		Dialect:     db.DialectName(),
		Persona:     cfg.Pipeline.Persona,
		PreviewRows: cfg.Pipeline.PreviewRows,
		ReadOnly:    cfg.Pipeline.ReadOnly,
	})
	if err != nil {
		logger.Error("failed to build pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:            logger,
		Pipeline:          questions,
		Schema:            registry,
		Database:          db,
		DatabaseName:      db.DatabaseName(),
		Completion:        completionClient,
		UI:                uistatic.Handler(),
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: 5 * time.Second,
	}
	if attemptJournal != nil {
		deps.Journal = attemptJournal
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		if validator.Len() == 0 {
			logger.Warn("auth is required but no static keys are configured; every protected request will be rejected")
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("driver", db.Driver()),
			slog.String("completion_provider", cfg.AI.Provider),
			slog.Bool("journal", cfg.Journal.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
	}
	background.Wait()
}
