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

	"github.com/joho/godotenv"

	"github.com/stockpilot/stockpilot/internal/api"
	"github.com/stockpilot/stockpilot/internal/assistant"
	"github.com/stockpilot/stockpilot/internal/audit"
	"github.com/stockpilot/stockpilot/internal/auth"
	"github.com/stockpilot/stockpilot/internal/config"
	"github.com/stockpilot/stockpilot/internal/export"
	"github.com/stockpilot/stockpilot/internal/inventory"
	"github.com/stockpilot/stockpilot/internal/migrations"
	"github.com/stockpilot/stockpilot/internal/nl2sql"
	"github.com/stockpilot/stockpilot/internal/observability"
	"github.com/stockpilot/stockpilot/internal/sqlgen"
	s3store "github.com/stockpilot/stockpilot/internal/storage/s3"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("stockpilot-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	db, err := inventory.Open(context.Background(), inventory.DBConfig{
		Driver:          cfg.DB.Driver,
		DSN:             cfg.DB.DSN,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxIdleTime: cfg.DB.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open inventory db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if cfg.DB.MigrateOnStart {
		runner, err := migrations.NewRunner(cfg.DB.Driver)
		if err != nil {
			logger.Error("failed to prepare migrations", slog.Any("error", err))
			os.Exit(1)
		}
		applied, err := runner.Up(context.Background(), db, 0)
		if err != nil {
			logger.Error("failed to migrate inventory db", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("inventory db migrated", slog.Int("applied", applied))
	}

	store := inventory.NewStore(db, cfg.DB.Driver, inventory.WithQueryTimeout(cfg.Query.Timeout))

	prompts, models, completer, err := buildModel(cfg)
	if err != nil {
		logger.Error("failed to initialize model client", slog.Any("error", err))
		os.Exit(1)
	}
	generator := sqlgen.NewGenerator(store, completer, prompts, models.SQL)
	generator.MaxTokens = cfg.AI.MaxTokens
	generator.Logger = logger

	deps := assistant.Dependencies{
		Generator:         generator,
		Engine:            store,
		Model:             completer,
		Prompts:           prompts,
		ConversationModel: models.ReasoningFallback,
		RowLimit:          cfg.Query.RowLimit,
		Logger:            logger,
	}
	var (
		auditWriter *audit.Writer
		objectStore *s3store.Store
	)
	if cfg.Audit.Enabled {
		auditWriter = audit.NewWriter(db, cfg.DB.Driver, cfg.Audit.User)
		deps.Audit = auditWriter
	}
	if cfg.Export.Enabled {
		objectStore, err = s3store.New(context.Background(), s3store.ConfigFrom(cfg.ObjectStore))
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Exporter = export.NewExporter(objectStore)
		logger.Info("result export enabled", slog.String("bucket", objectStore.Bucket()))
	}
	helper, err := assistant.New(deps)
	if err != nil {
		logger.Error("failed to build assistant", slog.Any("error", err))
		os.Exit(1)
	}

	apiDeps := api.Dependencies{
		Logger:    logger,
		Assistant: helper,
		Generator: generator,
		Validator: generator.Validator,
		Tables:    store,
		Readiness: api.CombineReadinessChecks(
			store.HealthCheck,
			api.CheckDatabase(store),
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}
	if auditWriter != nil {
		apiDeps.Audit = auditWriter
	}
	if objectStore != nil {
		apiDeps.Exports = objectStore
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		apiDeps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, apiDeps)
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
			slog.Bool("ai_enabled", completer != nil),
			slog.Bool("audit_enabled", cfg.Audit.Enabled),
			slog.Bool("export_enabled", cfg.Export.Enabled),
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

// buildModel loads prompts and resolves model names. The completer is nil
// when AI is disabled, which limits SQL generation to the rule set.
func buildModel(cfg config.Config) (nl2sql.Prompts, nl2sql.ModelRegistry, nl2sql.Completer, error) {
	prompts := nl2sql.DefaultPrompts()
	if cfg.AI.PromptsFile != "" {
		loaded, err := nl2sql.LoadPrompts(cfg.AI.PromptsFile)
		if err != nil {
			return nl2sql.Prompts{}, nl2sql.ModelRegistry{}, nil, fmt.Errorf("load prompts: %w", err)
		}
		prompts = loaded
	}
	models := nl2sql.ModelRegistry{SQL: cfg.AI.SQLModel, ReasoningFallback: cfg.AI.FallbackModel}.Merge(prompts.Models)
	if !cfg.AI.Enabled {
		return prompts, models, nil, nil
	}

	completer, err := nl2sql.NewClient(nl2sql.Config{
		Provider:    cfg.AI.Provider,
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Temperature: cfg.AI.Temperature,
		MaxTokens:   cfg.AI.MaxTokens,
		Timeout:     cfg.AI.Timeout,
	})
	if err != nil {
		return nl2sql.Prompts{}, nl2sql.ModelRegistry{}, nil, err
	}
	return prompts, models, completer, nil
}
