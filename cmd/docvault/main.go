package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rfpdesk/docvault/internal/config"
	"github.com/rfpdesk/docvault/internal/db"
	"github.com/rfpdesk/docvault/internal/db/memory"
	dbRedis "github.com/rfpdesk/docvault/internal/db/redis"
	"github.com/rfpdesk/docvault/internal/domain/access"
	"github.com/rfpdesk/docvault/internal/extract"
	logpkg "github.com/rfpdesk/docvault/internal/logger"
	"github.com/rfpdesk/docvault/internal/metrics"
	auditrepo "github.com/rfpdesk/docvault/internal/repository/audit"
	documentrepo "github.com/rfpdesk/docvault/internal/repository/document"
	grantrepo "github.com/rfpdesk/docvault/internal/repository/grant"
	signaturerepo "github.com/rfpdesk/docvault/internal/repository/signature"
	"github.com/rfpdesk/docvault/internal/storage"
	chiTransport "github.com/rfpdesk/docvault/internal/transport/chi"
	"github.com/rfpdesk/docvault/internal/transport/identity"
	batchuc "github.com/rfpdesk/docvault/internal/usecase/batch"
	documentuc "github.com/rfpdesk/docvault/internal/usecase/document"
	healthuc "github.com/rfpdesk/docvault/internal/usecase/health"
	"github.com/rfpdesk/docvault/internal/usecase/index"
	"github.com/rfpdesk/docvault/internal/usecase/permission"
	"github.com/rfpdesk/docvault/internal/usecase/versionstore"
	"github.com/rfpdesk/docvault/internal/version"
)

// contentStore is what the composition root needs from object storage.
type contentStore interface {
	documentuc.ContentStore
	healthuc.Pinger
}

// directory is what the composition root needs from the identity service.
type directory interface {
	permission.Directory
	healthuc.Pinger
}

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting docvault API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("objects_driver", cfg.Objects.Driver),
		zap.String("identity_driver", cfg.Identity.Driver),
	)

	// Register domain metrics explicitly
	metrics.RegisterDomainMetrics()
	metrics.RegisterIdentityMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := buildStore(ctx, cfg, logger)
	defer store.Close()

	objects := buildObjects(ctx, cfg, logger)
	dir := buildDirectory(cfg, logger)

	// Repositories and core services
	prefix := cfg.Storage.KeyPrefix
	versions := versionstore.New(documentrepo.New(store, prefix))
	eval := permission.New(versions, grantrepo.New(store, prefix), dir).
		WithTimeout(cfg.Identity.Timeout())

	ix := index.New(documentuc.NewLiveView(versions, eval)).
		WithSnippetLength(cfg.Index.SnippetLength)
	propagator := index.NewPropagator(ix, versions, eval, index.PropagatorConfig{
		Workers:           cfg.Index.Workers,
		QueueSize:         cfg.Index.QueueSize,
		MaxAttempts:       cfg.Index.MaxAttempts,
		RetryBase:         time.Duration(cfg.Index.RetryBaseMS) * time.Millisecond,
		ReconcileInterval: time.Duration(cfg.Index.ReconcileIntervalSec) * time.Second,
	}, logger.Named("propagator"))

	docSvc := documentuc.New(
		versions, eval, ix, propagator, objects,
		extract.NewRegistry(cfg.Content.AllowedMimeTypes),
		auditrepo.New(store, prefix),
		signaturerepo.New(store, prefix),
	).
		WithContentLimits(cfg.Content.HashAlgorithm, cfg.Content.MaxSize()).
		WithPresignTTL(cfg.Objects.PresignTTL()).
		WithMaxPageSize(cfg.Index.MaxPageSize)
	batchSvc := batchuc.New(docSvc).WithMaxBatchSize(cfg.Batch.MaxBatchSize)
	healthSvc := healthuc.New(store, objects).WithIdentity(dir).WithIndex(propagator)

	// Index rebuild and propagation run until shutdown.
	propDone := make(chan struct{})
	go func() {
		defer close(propDone)
		if err := propagator.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Index propagation stopped", zap.Error(err))
		}
	}()

	// Create chi server
	server := chiTransport.NewServer(docSvc, batchSvc, healthSvc, logger).
		WithMaxUploadSize(cfg.Content.MaxSize()).
		WithDefaultPageSize(cfg.Index.DefaultPageSize)
	limiter := chiTransport.NewRateLimiter(cfg.Auth.RateLimitRPS, cfg.Auth.RateLimitBurst)

	r := chi.NewRouter()
	r.Use(chiTransport.Recoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(chiTransport.RequestLogger(logger))
	r.Use(chiTransport.PrincipalMiddleware(cfg.Auth.JWTSecret))
	r.Use(limiter.Middleware())
	r.Use(metrics.Middleware())
	server.Routes(r)

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("Token auth disabled, trusting " + chiTransport.PrincipalHeader)
	}

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	<-propDone

	logger.Info("Server stopped gracefully")
}

func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) db.Store {
	var (
		store db.Store
		err   error
	)
	switch cfg.Database.Driver {
	case "memory":
		store = memory.NewStore()
	case "redis":
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
	default:
		logger.Fatal("Unknown database driver", zap.String("driver", cfg.Database.Driver))
	}
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}

	// Wait for database to be ready
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")
	return store
}

func buildObjects(ctx context.Context, cfg config.Config, logger *zap.Logger) contentStore {
	if cfg.Objects.Driver == "memory" {
		return storage.NewMemory()
	}
	objects, err := storage.NewMinIO(ctx, storage.MinIOConfig{
		Endpoint:  cfg.Objects.Endpoint,
		AccessKey: cfg.Objects.AccessKey,
		SecretKey: cfg.Objects.SecretKey,
		UseSSL:    cfg.Objects.UseSSL,
		Bucket:    cfg.Objects.Bucket,
	})
	if err != nil {
		logger.Fatal("Failed to connect object storage", zap.Error(err))
	}
	logger.Info("Connected to object storage", zap.String("bucket", cfg.Objects.Bucket))
	return objects
}

func buildDirectory(cfg config.Config, logger *zap.Logger) directory {
	if cfg.Identity.Driver == "static" {
		policies := make(map[string]access.Policy, len(cfg.Identity.Static.Policies))
		for rfp, roles := range cfg.Identity.Static.Policies {
			p := make(access.Policy, len(roles))
			for role, name := range roles {
				level, err := access.ParseLevel(name)
				if err != nil {
					logger.Fatal("Invalid static policy", zap.String("rfp_id", rfp), zap.Error(err))
				}
				p[role] = level
			}
			policies[rfp] = p
		}
		return identity.NewStatic(cfg.Identity.Static.Roles, policies)
	}
	client, err := identity.NewClient(identity.Config{
		BaseURL: cfg.Identity.BaseURL,
		Token:   cfg.Identity.Token,
		Timeout: cfg.Identity.Timeout(),
		Logger:  logger.Named("identity"),
	})
	if err != nil {
		logger.Fatal("Failed to create identity client", zap.Error(err))
	}
	return client
}
