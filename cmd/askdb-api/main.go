package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/askdb/askdb/internal/api"
	"github.com/askdb/askdb/internal/archive"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/clarify"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/dialogue"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
	querypostgres "github.com/askdb/askdb/internal/query/postgres"
	registrypostgres "github.com/askdb/askdb/internal/registry/postgres"
	"github.com/askdb/askdb/internal/schema"
	schemapostgres "github.com/askdb/askdb/internal/schema/postgres"
	s3store "github.com/askdb/askdb/internal/storage/s3"
	"github.com/askdb/askdb/internal/targetdb"
)

func main() {
	cfg, err := config.LoadFromEnv("askdb-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	registryDB, err := registrypostgres.Open(context.Background(), registrypostgres.DBConfig{
		DSN:             cfg.Registry.DSN,
		MaxOpenConns:    cfg.Registry.MaxOpenConns,
		MaxIdleConns:    cfg.Registry.MaxIdleConns,
		ConnMaxIdleTime: cfg.Registry.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Registry.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open registry db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = registryDB.Close() }()
	registryRepo := registrypostgres.NewRepository(registryDB)

	pools := targetdb.NewManager(targetdb.Config{
		MaxOpenConns:    cfg.Target.MaxOpenConns,
		MaxIdleConns:    cfg.Target.MaxIdleConns,
		ConnMaxIdleTime: cfg.Target.ConnMaxIdleTime,
		ConnectTimeout:  cfg.Target.ConnectTimeout,
	})
	defer func() { _ = pools.Close() }()

	introspector, err := schema.NewIntrospector(schema.Config{
		Connector:  pools,
		Reader:     schemapostgres.NewReader(),
		SchemaName: cfg.Introspection.Schema,
		Timeout:    cfg.Introspection.Timeout,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to initialize schema introspector", slog.Any("error", err))
		os.Exit(1)
	}

	completer, err := newCompleter(cfg.AI)
	if err != nil {
		logger.Error("failed to initialize model backend", slog.Any("error", err))
		os.Exit(1)
	}
	generator, err := nl2sql.NewClient(nl2sql.ClientConfig{
		Completer:   completer,
		Temperature: cfg.AI.Temperature,
		MaxTokens:   cfg.AI.MaxTokens,
		Timeout:     cfg.AI.Timeout,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to initialize query generator", slog.Any("error", err))
		os.Exit(1)
	}

	executor, err := query.NewExecutor(query.ExecutorConfig{
		Engine:   querypostgres.NewEngine(pools),
		RowLimit: cfg.Execution.RowLimit,
		Timeout:  cfg.Execution.Timeout,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to initialize query executor", slog.Any("error", err))
		os.Exit(1)
	}

	sessions := dialogue.NewSessionStore(cfg.Dialogue.SessionTTL)
	sessions.Start()
	defer sessions.Stop()

	controllerCfg := dialogue.ControllerConfig{
		Databases:  registryRepo,
		Schemas:    introspector,
		Classifier: clarify.NewClassifier(generator, logger),
		Generator:  generator,
		Executor:   executor,
		Sessions:   sessions,
		Logger:     logger,
	}
	deps := api.Dependencies{
		Logger:            logger,
		DependencyTimeout: time.Second,
		Databases:         registryRepo,
		Schemas:           introspector,
		Pools:             pools,
	}

	readiness := []api.ReadinessCheck{api.CheckRegistry(registryRepo)}
	if cfg.Archive.Enabled {
		store, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.Archive.Endpoint,
			Region:           cfg.Archive.Region,
			Bucket:           cfg.Archive.Bucket,
			AccessKeyID:      cfg.Archive.AccessKeyID,
			SecretAccessKey:  cfg.Archive.SecretAccessKey,
			UseSSL:           cfg.Archive.UseSSL,
			Prefix:           cfg.Archive.Prefix,
			AutoCreateBucket: cfg.Archive.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize result archive store", slog.Any("error", err))
			os.Exit(1)
		}
		results, err := archive.New(archive.Config{Store: store, Logger: logger})
		if err != nil {
			logger.Error("failed to initialize result archive", slog.Any("error", err))
			os.Exit(1)
		}
		controllerCfg.Archiver = results
		deps.Results = results
		readiness = append(readiness, api.CheckArchive(results))
	}

	controller, err := dialogue.NewController(controllerCfg)
	if err != nil {
		logger.Error("failed to initialize dialogue controller", slog.Any("error", err))
		os.Exit(1)
	}
	deps.Pipeline = controller
	deps.Readiness = api.CombineReadinessChecks(readiness...)

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("ai_provider", string(cfg.AI.Provider)),
			slog.Bool("archive_enabled", cfg.Archive.Enabled),
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
		os.Exit(1)
	}
}

func newCompleter(cfg config.AIConfig) (nl2sql.Completer, error) {
	switch cfg.Provider {
	case config.AIProviderAnthropic:
		return nl2sql.NewAnthropicCompleter(nl2sql.AnthropicConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	case config.AIProviderOpenAI:
		return nl2sql.NewOpenAICompleter(nl2sql.OpenAIConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
}
